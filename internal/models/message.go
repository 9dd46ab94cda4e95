package models

import "time"

const (
	MessageTypePrivate = "private"
	MessageTypeSystem  = "system"

	MaxMessageLength = 2000
)

// PrivateMessage is a document of the private_messages collection.
type PrivateMessage struct {
	ID             int64     `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversation_id" json:"conversationId"`
	SenderID       int64     `bson:"sender_id" json:"senderId"`
	ReceiverID     int64     `bson:"receiver_id" json:"receiverId"`
	Content        string    `bson:"content" json:"content"`
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"`
}

type Message struct {
	ID               int64     `json:"id"`
	ConversationID   string    `json:"conversationId"`
	SenderID         int64     `json:"senderId"`
	SenderUsername   string    `json:"senderUsername"`
	SenderAvatar     *string   `json:"senderAvatar"`
	ReceiverID       int64     `json:"receiverId"`
	ReceiverUsername string    `json:"receiverUsername"`
	ReceiverAvatar   *string   `json:"receiverAvatar"`
	Content          string    `json:"content"`
	CreatedAt        time.Time `json:"createdAt"`
	Type             string    `json:"type"`
}

type Conversation struct {
	ConversationID  string   `json:"conversationId"`
	PartnerID       int64    `json:"partnerId"`
	PartnerUsername string   `json:"partnerUsername"`
	PartnerAvatar   *string  `json:"partnerAvatar"`
	LastMessage     *Message `json:"lastMessage"`
	UnreadCount     int64    `json:"unreadCount"`
}

type SystemMessage struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

type UnreadCount struct {
	SystemMessageCount  int64 `json:"systemMessageCount"`
	PrivateMessageCount int64 `json:"privateMessageCount"`
	TotalCount          int64 `json:"totalCount"`
}

type SendMessageRequest struct {
	SenderID   int64  `json:"senderId"`
	ReceiverID int64  `json:"receiverId"`
	Content    string `json:"content"`
}

type SystemMessageRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}
