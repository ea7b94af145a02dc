package imclient

import (
	"JobNest/internal/api/dto"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// restClient WS 之外的对账通道：历史、会话列表、已读、收件箱
type restClient struct {
	http          *resty.Client
	tokenProvider func() (string, error)
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newRestClient(baseURL string, tokenProvider func() (string, error)) *restClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second)

	return &restClient{
		http:          client,
		tokenProvider: tokenProvider,
	}
}

func (r *restClient) request(ctx context.Context) (*resty.Request, error) {
	req := r.http.R().SetContext(ctx)
	if r.tokenProvider != nil {
		token, err := r.tokenProvider()
		if err != nil {
			return nil, errors.Wrap(err, "token provider")
		}
		req.SetHeader("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (r *restClient) decode(resp *resty.Response, out any) error {
	if resp.IsError() {
		return fmt.Errorf("http status %d", resp.StatusCode())
	}
	var env apiEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return errors.Wrap(err, "decode response")
	}
	if env.Code != 200 {
		return fmt.Errorf("business code %d: %s", env.Code, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (r *restClient) GetHistory(ctx context.Context, convID, lastSeq uint64, pageSize int) ([]*dto.MessageDTO, error) {
	req, err := r.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := req.
		SetQueryParam("conversation_id", strconv.FormatUint(convID, 10)).
		SetQueryParam("last_seq", strconv.FormatUint(lastSeq, 10)).
		SetQueryParam("page_size", strconv.Itoa(pageSize)).
		Get("/api/im/history")
	if err != nil {
		return nil, err
	}

	var list []*dto.MessageDTO
	if err := r.decode(resp, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *restClient) SyncMessages(ctx context.Context, convID, afterSeq uint64, pageSize int) ([]*dto.MessageDTO, error) {
	req, err := r.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := req.
		SetQueryParam("conversation_id", strconv.FormatUint(convID, 10)).
		SetQueryParam("after_seq", strconv.FormatUint(afterSeq, 10)).
		SetQueryParam("page_size", strconv.Itoa(pageSize)).
		Get("/api/im/sync")
	if err != nil {
		return nil, err
	}

	var list []*dto.MessageDTO
	if err := r.decode(resp, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *restClient) GetConversationList(ctx context.Context) ([]*dto.ConversationDTO, error) {
	req, err := r.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := req.Get("/api/im/list")
	if err != nil {
		return nil, err
	}

	var list []*dto.ConversationDTO
	if err := r.decode(resp, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *restClient) CreateConversation(ctx context.Context, participantIDs []uint64) (*dto.ConversationDTO, error) {
	req, err := r.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := req.
		SetBody(&dto.CreateConversationReq{ParticipantIDs: participantIDs}).
		Post("/api/im/conversation")
	if err != nil {
		return nil, err
	}

	var conv dto.ConversationDTO
	if err := r.decode(resp, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *restClient) SendMessage(ctx context.Context, body *dto.SendMessageReq) (*dto.MessageDTO, error) {
	req, err := r.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := req.SetBody(body).Post("/api/im/send")
	if err != nil {
		return nil, err
	}

	var msg dto.MessageDTO
	if err := r.decode(resp, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *restClient) MarkAsRead(ctx context.Context, convID, seq uint64) error {
	req, err := r.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.
		SetBody(&dto.MarkAsReadReq{ConversationID: convID, Sequence: seq}).
		Post("/api/im/read")
	if err != nil {
		return err
	}
	return r.decode(resp, nil)
}

func (r *restClient) GetNotifyList(ctx context.Context, page, pageSize int64) ([]*dto.NotifyDTO, error) {
	req, err := r.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := req.
		SetQueryParam("page", strconv.FormatInt(page, 10)).
		SetQueryParam("page_size", strconv.FormatInt(pageSize, 10)).
		Get("/api/notify/list")
	if err != nil {
		return nil, err
	}

	var list []*dto.NotifyDTO
	if err := r.decode(resp, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *restClient) GetNotifyUnread(ctx context.Context) (int64, error) {
	req, err := r.request(ctx)
	if err != nil {
		return 0, err
	}
	resp, err := req.Get("/api/notify/unread")
	if err != nil {
		return 0, err
	}

	var out dto.NotifyUnreadDTO
	if err := r.decode(resp, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

func (r *restClient) MarkNotifyRead(ctx context.Context, notifyID string) error {
	req, err := r.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.
		SetBody(map[string]string{"notify_id": notifyID}).
		Post("/api/notify/read")
	if err != nil {
		return err
	}
	return r.decode(resp, nil)
}
