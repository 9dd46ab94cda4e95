package services

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu   sync.Mutex
	next int64
	msgs []models.PrivateMessage
}

func (s *memoryStore) Insert(_ context.Context, m *models.PrivateMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	m.ID = s.next
	s.msgs = append(s.msgs, *m)
	return nil
}

func (s *memoryStore) conversation(id string) []models.PrivateMessage {
	var out []models.PrivateMessage
	for _, m := range s.msgs {
		if m.ConversationID == id {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *memoryStore) Page(_ context.Context, id string, skip, limit int64) ([]models.PrivateMessage, int64, error) {
	all := s.conversation(id)
	total := int64(len(all))
	if skip >= total {
		return nil, total, nil
	}
	return all[skip:min(total, skip+limit)], total, nil
}

func (s *memoryStore) Latest(_ context.Context, id string) (*models.PrivateMessage, error) {
	all := s.conversation(id)
	if len(all) == 0 {
		return nil, nil
	}
	return &all[0], nil
}

func (s *memoryStore) CountUnread(_ context.Context, id string, receiverID, afterID int64) (int64, error) {
	var n int64
	for _, m := range s.conversation(id) {
		if m.ReceiverID == receiverID && m.ID > afterID {
			n++
		}
	}
	return n, nil
}

type published struct {
	userID  int64
	kind    string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	users  []published
	system []any
}

func (p *recordingPublisher) PublishToUser(_ context.Context, userID int64, kind string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, published{userID, kind, payload})
	return nil
}

func (p *recordingPublisher) PublishSystem(_ context.Context, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.system = append(p.system, payload)
	return nil
}

func expectUserBrief(mock sqlmock.Sqlmock, userID int64, name string) {
	mock.ExpectQuery(`SELECT u.username, p.avatar FROM users u`).WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"username", "avatar"}).AddRow(name, nil))
}

func expectUserExists(mock sqlmock.Sqlmock, userID int64, ok bool) {
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM users WHERE id = \$1\)`).WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(ok))
}

func TestSendPrivateMessage(t *testing.T) {
	db, mock := newMockDB(t)
	rdb, mr := newTestRedis(t)
	store := &memoryStore{}
	pub := &recordingPublisher{}
	svc := NewMessageService(db, store, NewConversationCache(rdb), pub)
	svc.now = func() time.Time { return testTime }

	expectUserExists(mock, 8, true)
	mock.ExpectQuery(`SELECT conversation_id FROM private_message_conversations`).WithArgs(int64(7), int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id"}).AddRow("c1"))
	mock.ExpectExec(`UPDATE private_message_conversations SET updated_at`).WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO private_message_reads`).WithArgs(int64(7), "c1", int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	expectUserBrief(mock, 7, "alice")
	expectUserBrief(mock, 8, "bob")

	msg, err := svc.SendPrivateMessage(context.Background(), 7, 8, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.ID)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "alice", msg.SenderUsername)
	assert.Equal(t, "bob", msg.ReceiverUsername)
	assert.Equal(t, models.MessageTypePrivate, msg.Type)

	require.Len(t, pub.users, 2)
	assert.Equal(t, int64(7), pub.users[0].userID)
	assert.Equal(t, int64(8), pub.users[1].userID)
	assert.Equal(t, KindMessage, pub.users[1].kind)

	cached, err := mr.List(conversationRecentKey("c1"))
	require.NoError(t, err)
	assert.Len(t, cached, 1)
}

func TestSendPrivateMessage_Validation(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewMessageService(db, &memoryStore{}, NewConversationCache(nil), nil)
	ctx := context.Background()

	_, err := svc.SendPrivateMessage(ctx, 7, 8, "   ")
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))

	_, err = svc.SendPrivateMessage(ctx, 7, 8, strings.Repeat("é", models.MaxMessageLength+1))
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))

	_, err = svc.SendPrivateMessage(ctx, 7, 7, "hi")
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))

	expectUserExists(mock, 99, false)
	_, err = svc.SendPrivateMessage(ctx, 7, 99, "hi")
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}

func TestConversationMessages(t *testing.T) {
	db, mock := newMockDB(t)
	store := &memoryStore{}
	svc := NewMessageService(db, store, NewConversationCache(nil), nil)
	ctx := context.Background()
	for _, m := range []models.PrivateMessage{
		{ConversationID: "c1", SenderID: 8, ReceiverID: 7, Content: "a"},
		{ConversationID: "c1", SenderID: 7, ReceiverID: 8, Content: "b"},
		{ConversationID: "c1", SenderID: 8, ReceiverID: 7, Content: "c"},
	} {
		require.NoError(t, store.Insert(ctx, &m))
	}

	mock.ExpectQuery(`SELECT initiator_id, participant_id FROM private_message_conversations`).WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"initiator_id", "participant_id"}).AddRow(8, 7))
	expectUserBrief(mock, 7, "alice")
	expectUserBrief(mock, 8, "bob")
	mock.ExpectExec(`INSERT INTO private_message_reads`).WithArgs(int64(7), "c1", int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))

	page, err := svc.ConversationMessages(ctx, 7, "c1", models.PageRequest{Page: 0, Size: 2})
	require.NoError(t, err)
	require.Len(t, page.Content, 2)
	assert.Equal(t, "c", page.Content[0].Content)
	assert.Equal(t, "bob", page.Content[0].SenderUsername)
	assert.Equal(t, "alice", page.Content[1].SenderUsername)
	assert.Equal(t, int64(3), page.TotalElements)
	assert.Equal(t, 2, page.TotalPages)
}

func TestConversationMessages_Access(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewMessageService(db, &memoryStore{}, NewConversationCache(nil), nil)

	mock.ExpectQuery(`FROM private_message_conversations WHERE conversation_id`).WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"initiator_id", "participant_id"}).AddRow(8, 7))
	_, err := svc.ConversationMessages(context.Background(), 9, "c1", models.PageRequest{Size: 20})
	assert.Equal(t, http.StatusForbidden, apperr.StatusOf(err))

	mock.ExpectQuery(`FROM private_message_conversations WHERE conversation_id`).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"initiator_id", "participant_id"}))
	_, err = svc.ConversationMessages(context.Background(), 9, "nope", models.PageRequest{Size: 20})
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}

func TestSystemMessages_ReadMarker(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewMessageService(db, &memoryStore{}, NewConversationCache(nil), nil)
	sysRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "title", "content", "created_at"}).
			AddRow(5, "b", "x", testTime).AddRow(4, "a", "y", testTime)
	}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM system_messages`).WillReturnRows(sqlmock.NewRows([]string{"c"}).AddRow(2))
	mock.ExpectQuery(`SELECT message_id FROM system_message_reads`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"message_id"}).AddRow(4))
	mock.ExpectQuery(`FROM system_messages\s+ORDER BY id DESC`).WithArgs(10, 0).WillReturnRows(sysRows())
	mock.ExpectExec(`INSERT INTO system_message_reads`).WithArgs(int64(7), int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))

	page, err := svc.SystemMessages(context.Background(), 7, models.PageRequest{Size: 10})
	require.NoError(t, err)
	require.Len(t, page.Content, 2)
	assert.False(t, page.Content[0].IsRead)
	assert.True(t, page.Content[1].IsRead)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM system_messages`).WillReturnRows(sqlmock.NewRows([]string{"c"}).AddRow(2))
	mock.ExpectQuery(`SELECT message_id FROM system_message_reads`).
		WillReturnRows(sqlmock.NewRows([]string{"message_id"}).AddRow(5))
	mock.ExpectQuery(`ORDER BY id DESC`).WillReturnRows(sysRows())

	page, err = svc.SystemMessages(context.Background(), 7, models.PageRequest{Size: 10})
	require.NoError(t, err)
	assert.True(t, page.Content[0].IsRead)
}

func TestSendSystemMessage_Broadcasts(t *testing.T) {
	db, mock := newMockDB(t)
	pub := &recordingPublisher{}
	svc := NewMessageService(db, &memoryStore{}, NewConversationCache(nil), pub)

	_, err := svc.SendSystemMessage(context.Background(), models.SystemMessageRequest{Title: " ", Content: "x"})
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))

	mock.ExpectQuery(`INSERT INTO system_messages`).WithArgs("Maintenance", "Tonight").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(9, testTime))
	m, err := svc.SendSystemMessage(context.Background(), models.SystemMessageRequest{Title: "Maintenance", Content: "Tonight"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), m.ID)
	require.Len(t, pub.system, 1)
}

func TestUnread(t *testing.T) {
	db, mock := newMockDB(t)
	store := &memoryStore{}
	svc := NewMessageService(db, store, NewConversationCache(nil), nil)
	ctx := context.Background()
	for _, m := range []models.PrivateMessage{
		{ConversationID: "c1", SenderID: 8, ReceiverID: 7},
		{ConversationID: "c1", SenderID: 8, ReceiverID: 7},
		{ConversationID: "c2", SenderID: 9, ReceiverID: 7},
		{ConversationID: "c2", SenderID: 7, ReceiverID: 9},
	} {
		require.NoError(t, store.Insert(ctx, &m))
	}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM system_messages`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"c"}).AddRow(3))
	mock.ExpectQuery(`SELECT c.conversation_id, COALESCE\(r.message_id, 0\)`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id", "message_id"}).AddRow("c1", 1).AddRow("c2", 0))

	u, err := svc.Unread(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(3), u.SystemMessageCount)
	assert.Equal(t, int64(2), u.PrivateMessageCount)
	assert.Equal(t, int64(5), u.TotalCount)
}

func TestConversations(t *testing.T) {
	db, mock := newMockDB(t)
	store := &memoryStore{}
	svc := NewMessageService(db, store, NewConversationCache(nil), nil)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &models.PrivateMessage{ConversationID: "c1", SenderID: 8, ReceiverID: 7, Content: "hey"}))

	mock.ExpectQuery(`FROM private_message_conversations c`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id", "initiator_id", "partner_id", "username", "avatar", "marker"}).
			AddRow("c1", 8, 8, "bob", nil, 0))
	expectUserBrief(mock, 7, "alice")

	convs, err := svc.Conversations(ctx, 7)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "bob", convs[0].PartnerUsername)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "bob", convs[0].LastMessage.SenderUsername)
	assert.Equal(t, "alice", convs[0].LastMessage.ReceiverUsername)
	assert.Equal(t, int64(1), convs[0].UnreadCount)
}

func TestCreateOrGetConversation_CreatesOnce(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewMessageService(db, &memoryStore{}, NewConversationCache(nil), nil)

	expectUserExists(mock, 8, true)
	mock.ExpectQuery(`SELECT conversation_id FROM private_message_conversations`).
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id"}))
	mock.ExpectExec(`INSERT INTO private_message_conversations`).
		WithArgs(sqlmock.AnyArg(), int64(7), int64(8)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT conversation_id FROM private_message_conversations`).
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id"}).AddRow("c1"))
	mock.ExpectQuery(`SELECT message_id FROM private_message_reads`).WithArgs(int64(7), "c1").
		WillReturnRows(sqlmock.NewRows([]string{"message_id"}))
	expectUserBrief(mock, 7, "alice")
	expectUserBrief(mock, 8, "bob")

	conv, err := svc.CreateOrGetConversation(context.Background(), 7, 8)
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ConversationID)
	assert.Nil(t, conv.LastMessage)
	assert.Zero(t, conv.UnreadCount)
}
