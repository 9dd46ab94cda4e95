package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher pushes payloads to connected STOMP clients. kind is the last
// segment of /user/{id}/{kind}.
type Publisher interface {
	PublishToUser(ctx context.Context, userID int64, kind string, payload any) error
	PublishSystem(ctx context.Context, payload any) error
}

const (
	KindMessage = "message"
	KindSystem  = "system"
)

// MessageService covers private conversations and system announcements.
type MessageService struct {
	db    *sql.DB
	store MessageStore
	cache *ConversationCache
	pub   Publisher
	now   func() time.Time
}

func NewMessageService(db *sql.DB, store MessageStore, cache *ConversationCache, pub Publisher) *MessageService {
	return &MessageService{db: db, store: store, cache: cache, pub: pub, now: time.Now}
}

type userCard struct {
	name   string
	avatar *string
}

func (s *MessageService) card(ctx context.Context, userID int64) (userCard, error) {
	name, avatar, err := userBrief(ctx, s.db, userID)
	return userCard{name: name, avatar: avatar}, err
}

func toMessage(m models.PrivateMessage, sender, receiver userCard) models.Message {
	return models.Message{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		SenderID:         m.SenderID,
		SenderUsername:   sender.name,
		SenderAvatar:     sender.avatar,
		ReceiverID:       m.ReceiverID,
		ReceiverUsername: receiver.name,
		ReceiverAvatar:   receiver.avatar,
		Content:          m.Content,
		CreatedAt:        m.CreatedAt,
		Type:             models.MessageTypePrivate,
	}
}

// SystemMessages pages announcements newest first. Messages up to the
// stored read marker are flagged read; the marker then moves to the
// newest message shown.
func (s *MessageService) SystemMessages(ctx context.Context, userID int64, pr models.PageRequest) (models.Page[models.SystemMessage], error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM system_messages`).Scan(&total); err != nil {
		return models.Page[models.SystemMessage]{}, fmt.Errorf("count system messages: %w", err)
	}
	var marker int64
	err := s.db.QueryRowContext(ctx, `SELECT message_id FROM system_message_reads WHERE user_id = $1`, userID).Scan(&marker)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.Page[models.SystemMessage]{}, fmt.Errorf("load read marker: %w", err)
	}

	items, err := s.listSystem(ctx, pr)
	if err != nil {
		return models.Page[models.SystemMessage]{}, err
	}
	for i := range items {
		items[i].IsRead = items[i].ID <= marker
	}

	if len(items) > 0 && items[0].ID > marker {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO system_message_reads (user_id, message_id) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE
			SET message_id = GREATEST(system_message_reads.message_id, EXCLUDED.message_id), updated_at = NOW()
		`, userID, items[0].ID); err != nil {
			return models.Page[models.SystemMessage]{}, fmt.Errorf("move read marker: %w", err)
		}
	}
	return models.NewPage(items, pr.Page, pr.Size, total), nil
}

func (s *MessageService) listSystem(ctx context.Context, pr models.PageRequest) ([]models.SystemMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, created_at FROM system_messages
		ORDER BY id DESC LIMIT $1 OFFSET $2
	`, pr.Size, pr.Offset())
	if err != nil {
		return nil, fmt.Errorf("list system messages: %w", err)
	}
	defer rows.Close()

	var out []models.SystemMessage
	for rows.Next() {
		var m models.SystemMessage
		if err := rows.Scan(&m.ID, &m.Title, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SystemHistory is the admin view of sent announcements.
func (s *MessageService) SystemHistory(ctx context.Context, pr models.PageRequest) (models.Page[models.SystemMessage], error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM system_messages`).Scan(&total); err != nil {
		return models.Page[models.SystemMessage]{}, fmt.Errorf("count system messages: %w", err)
	}
	items, err := s.listSystem(ctx, pr)
	if err != nil {
		return models.Page[models.SystemMessage]{}, err
	}
	return models.NewPage(items, pr.Page, pr.Size, total), nil
}

// SendSystemMessage stores an announcement and broadcasts it.
func (s *MessageService) SendSystemMessage(ctx context.Context, req models.SystemMessageRequest) (*models.SystemMessage, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Content = strings.TrimSpace(req.Content)
	if req.Title == "" || req.Content == "" {
		return nil, apperr.BadRequest("title and content are required")
	}
	m := &models.SystemMessage{Title: req.Title, Content: req.Content}
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO system_messages (title, content) VALUES ($1, $2) RETURNING id, created_at
	`, req.Title, req.Content).Scan(&m.ID, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert system message: %w", err)
	}
	if s.pub != nil {
		if err := s.pub.PublishSystem(ctx, m); err != nil {
			zap.S().Warnf("messages: broadcast system message %d: %v", m.ID, err)
		}
	}
	return m, nil
}

type conversationRow struct {
	id          string
	initiatorID int64
	partnerID   int64
	partner     userCard
	readMarker  int64
}

// Conversations lists the user's conversations, most recently active first.
func (s *MessageService) Conversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.conversation_id, c.initiator_id,
			CASE WHEN c.initiator_id = $1 THEN c.participant_id ELSE c.initiator_id END AS partner_id,
			u.username, p.avatar, COALESCE(r.message_id, 0)
		FROM private_message_conversations c
		JOIN users u ON u.id = CASE WHEN c.initiator_id = $1 THEN c.participant_id ELSE c.initiator_id END
		LEFT JOIN user_profiles p ON p.user_id = u.id
		LEFT JOIN private_message_reads r ON r.user_id = $1 AND r.conversation_id = c.conversation_id
		WHERE c.initiator_id = $1 OR c.participant_id = $1
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var convs []conversationRow
	for rows.Next() {
		var c conversationRow
		if err := rows.Scan(&c.id, &c.initiatorID, &c.partnerID, &c.partner.name, &c.partner.avatar, &c.readMarker); err != nil {
			rows.Close()
			return nil, err
		}
		convs = append(convs, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.Conversation, 0, len(convs))
	if len(convs) == 0 {
		return out, nil
	}
	me, err := s.card(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, c := range convs {
		conv, err := s.summarize(ctx, userID, me, c)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, nil
}

func (s *MessageService) latest(ctx context.Context, conversationID string) (*models.PrivateMessage, error) {
	if cached, ok := s.cache.Recent(ctx, conversationID, 1); ok {
		return &cached[0], nil
	}
	return s.store.Latest(ctx, conversationID)
}

func (s *MessageService) summarize(ctx context.Context, userID int64, me userCard, c conversationRow) (models.Conversation, error) {
	conv := models.Conversation{
		ConversationID:  c.id,
		PartnerID:       c.partnerID,
		PartnerUsername: c.partner.name,
		PartnerAvatar:   c.partner.avatar,
	}
	last, err := s.latest(ctx, c.id)
	if err != nil {
		return conv, err
	}
	if last != nil {
		sender, receiver := me, c.partner
		if last.SenderID != userID {
			sender, receiver = c.partner, me
		}
		m := toMessage(*last, sender, receiver)
		conv.LastMessage = &m
	}
	conv.UnreadCount, err = s.store.CountUnread(ctx, c.id, userID, c.readMarker)
	return conv, err
}

func (s *MessageService) loadConversation(ctx context.Context, conversationID string) (initiator, participant int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT initiator_id, participant_id FROM private_message_conversations WHERE conversation_id = $1
	`, conversationID).Scan(&initiator, &participant)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return 0, 0, fmt.Errorf("load conversation: %w", err)
	}
	return initiator, participant, nil
}

// ConversationMessages pages a conversation newest first and marks it read.
func (s *MessageService) ConversationMessages(ctx context.Context, userID int64, conversationID string, pr models.PageRequest) (models.Page[models.Message], error) {
	initiator, participant, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return models.Page[models.Message]{}, err
	}
	if userID != initiator && userID != participant {
		return models.Page[models.Message]{}, apperr.Forbidden("not a participant of this conversation")
	}
	partnerID := participant
	if userID == participant {
		partnerID = initiator
	}

	msgs, total, err := s.pageMessages(ctx, conversationID, pr)
	if err != nil {
		return models.Page[models.Message]{}, err
	}

	me, err := s.card(ctx, userID)
	if err != nil {
		return models.Page[models.Message]{}, err
	}
	partner, err := s.card(ctx, partnerID)
	if err != nil {
		return models.Page[models.Message]{}, err
	}
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.SenderID == userID {
			out = append(out, toMessage(m, me, partner))
		} else {
			out = append(out, toMessage(m, partner, me))
		}
	}

	if len(msgs) > 0 {
		if err := s.markRead(ctx, userID, conversationID, msgs[0].ID); err != nil {
			return models.Page[models.Message]{}, err
		}
	}
	return models.NewPage(out, pr.Page, pr.Size, total), nil
}

// pageMessages reads a page from the store. The first page also refreshes
// the recent cache that backs conversation previews.
func (s *MessageService) pageMessages(ctx context.Context, conversationID string, pr models.PageRequest) ([]models.PrivateMessage, int64, error) {
	msgs, total, err := s.store.Page(ctx, conversationID, int64(pr.Offset()), int64(pr.Size))
	if err != nil {
		return nil, 0, err
	}
	if pr.Page == 0 && len(msgs) > 0 {
		s.cache.Warm(ctx, conversationID, msgs)
	}
	return msgs, total, nil
}

func (s *MessageService) markRead(ctx context.Context, userID int64, conversationID string, messageID int64) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO private_message_reads (user_id, conversation_id, message_id) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, conversation_id) DO UPDATE
		SET message_id = GREATEST(private_message_reads.message_id, EXCLUDED.message_id), updated_at = NOW()
	`, userID, conversationID, messageID); err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	return nil
}

// Unread counts unread system and private messages.
func (s *MessageService) Unread(ctx context.Context, userID int64) (*models.UnreadCount, error) {
	var out models.UnreadCount
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM system_messages
		WHERE id > COALESCE((SELECT message_id FROM system_message_reads WHERE user_id = $1), 0)
	`, userID).Scan(&out.SystemMessageCount); err != nil {
		return nil, fmt.Errorf("count unread system messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.conversation_id, COALESCE(r.message_id, 0)
		FROM private_message_conversations c
		LEFT JOIN private_message_reads r ON r.user_id = $1 AND r.conversation_id = c.conversation_id
		WHERE c.initiator_id = $1 OR c.participant_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	type marker struct {
		id    string
		after int64
	}
	var markers []marker
	for rows.Next() {
		var m marker
		if err := rows.Scan(&m.id, &m.after); err != nil {
			rows.Close()
			return nil, err
		}
		markers = append(markers, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, m := range markers {
		n, err := s.store.CountUnread(ctx, m.id, userID, m.after)
		if err != nil {
			return nil, err
		}
		out.PrivateMessageCount += n
	}
	out.TotalCount = out.SystemMessageCount + out.PrivateMessageCount
	return &out, nil
}

// findOrCreateConversation returns the id of the conversation between the
// pair, creating it with userID as initiator.
func (s *MessageService) findOrCreateConversation(ctx context.Context, userID, partnerID int64) (string, error) {
	const lookup = `
		SELECT conversation_id FROM private_message_conversations
		WHERE LEAST(initiator_id, participant_id) = LEAST($1::bigint, $2::bigint)
		AND GREATEST(initiator_id, participant_id) = GREATEST($1::bigint, $2::bigint)`

	var id string
	err := s.db.QueryRowContext(ctx, lookup, userID, partnerID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("find conversation: %w", err)
	}

	newID := strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO private_message_conversations (conversation_id, initiator_id, participant_id)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING
	`, newID, userID, partnerID); err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	// A concurrent insert may have won the pair index.
	if err := s.db.QueryRowContext(ctx, lookup, userID, partnerID).Scan(&id); err != nil {
		return "", fmt.Errorf("find conversation: %w", err)
	}
	return id, nil
}

func (s *MessageService) checkPartner(ctx context.Context, userID, partnerID int64) error {
	if partnerID == userID {
		return apperr.BadRequest("cannot message yourself")
	}
	ok, err := userExists(ctx, s.db, partnerID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("user not found")
	}
	return nil
}

// CreateOrGetConversation opens the conversation with partnerID.
func (s *MessageService) CreateOrGetConversation(ctx context.Context, userID, partnerID int64) (*models.Conversation, error) {
	if err := s.checkPartner(ctx, userID, partnerID); err != nil {
		return nil, err
	}
	id, err := s.findOrCreateConversation(ctx, userID, partnerID)
	if err != nil {
		return nil, err
	}
	var marker int64
	err = s.db.QueryRowContext(ctx, `
		SELECT message_id FROM private_message_reads WHERE user_id = $1 AND conversation_id = $2
	`, userID, id).Scan(&marker)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load read marker: %w", err)
	}
	me, err := s.card(ctx, userID)
	if err != nil {
		return nil, err
	}
	partner, err := s.card(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	conv, err := s.summarize(ctx, userID, me, conversationRow{id: id, partnerID: partnerID, partner: partner, readMarker: marker})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// SendPrivateMessage stores a message and pushes it to both participants.
func (s *MessageService) SendPrivateMessage(ctx context.Context, senderID, receiverID int64, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.BadRequest("message content is required")
	}
	if utf8.RuneCountInString(content) > models.MaxMessageLength {
		return nil, apperr.BadRequest(fmt.Sprintf("message must be at most %d characters", models.MaxMessageLength))
	}
	if err := s.checkPartner(ctx, senderID, receiverID); err != nil {
		return nil, err
	}
	conversationID, err := s.findOrCreateConversation(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}

	pm := models.PrivateMessage{
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.Insert(ctx, &pm); err != nil {
		return nil, err
	}
	s.cache.Push(ctx, pm)

	if _, err := s.db.ExecContext(ctx, `
		UPDATE private_message_conversations SET updated_at = NOW() WHERE conversation_id = $1
	`, conversationID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	// The sender has seen their own message.
	if err := s.markRead(ctx, senderID, conversationID, pm.ID); err != nil {
		return nil, err
	}

	sender, err := s.card(ctx, senderID)
	if err != nil {
		return nil, err
	}
	receiver, err := s.card(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	msg := toMessage(pm, sender, receiver)

	if s.pub != nil {
		for _, id := range []int64{senderID, receiverID} {
			if err := s.pub.PublishToUser(ctx, id, KindMessage, msg); err != nil {
				zap.S().Warnf("messages: push message %d to user %d: %v", msg.ID, id, err)
			}
		}
	}
	return &msg, nil
}
