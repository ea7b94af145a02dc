package wire

import (
	"JobNest/internal/api"
	"JobNest/internal/api/config"
	"JobNest/internal/api/handler"
	"JobNest/internal/hub"
	"JobNest/internal/job"
	"JobNest/internal/pkg/cron"
	"JobNest/internal/pkg/kafka"
	pkgmongo "JobNest/internal/pkg/mongo"
	"JobNest/internal/pkg/redis"
	"JobNest/internal/repository"
	"JobNest/internal/service"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router        *gin.Engine
	DB            *gorm.DB
	Hub           *hub.Hub
	NotifyService service.NotifyService
	KafkaManager  *kafka.ConsumerManager
	CronMgr       *cron.Manager
}

func BuildApplication(db *gorm.DB, mongoDB *mongo.Database, cfg *config.Config) (*ApplicationContainer, error) {
	convRepo := repository.NewConversationRepo(db)
	messageRepo := pkgmongo.NewMessageRepo(mongoDB)
	notifyRepo := pkgmongo.NewNotifyRepo(mongoDB)

	publisher := service.PublisherFunc(redis.Publish)
	imService := service.NewIMService(convRepo, messageRepo, publisher)
	notifyService := service.NewNotifyService(notifyRepo, publisher, cfg.Notify.RetryWorkers)

	h := hub.NewHub(service.NewMembershipCache(convRepo), cfg.Ws.SendBuffer, int64(cfg.Ws.MaxMessageSize))
	h.SetMessageSender(imService)

	handlers := &api.HandlersGroup{
		WSHandler:     handler.NewWsHandler(h, cfg),
		IMHandler:     handler.NewIMHandler(imService),
		NotifyHandler: handler.NewNotifyHandler(notifyService),
	}

	router := api.SetupRouter(handlers)

	kafkaMgr, err := kafka.NewConsumerManager(cfg, notifyService)
	if err != nil {
		return nil, err
	}

	cronMgr := cron.NewCronManager(job.NewNotifyCleanupJob(notifyRepo))

	return &ApplicationContainer{
		Router:        router,
		DB:            db,
		Hub:           h,
		NotifyService: notifyService,
		KafkaManager:  kafkaMgr,
		CronMgr:       cronMgr,
	}, nil
}
