package consts

// Redis Key 前缀
const (
	IMRoomKey = "im:room:" // 会话房间广播频道，后接 conversationID
	IMUserKey = "im:user:" // 用户个人频道（通知、已读回执），后接 userID

	IMRoomPattern = IMRoomKey + "*"
	IMUserPattern = IMUserKey + "*"
)
