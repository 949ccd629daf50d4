package ws

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmburu/mingle/mocks"
	"github.com/mmburu/mingle/models"
	"github.com/mmburu/mingle/store"
)

type routerFixture struct {
	router   *Router
	hub      *Hub
	messages *mocks.MessageStoreMock
	posts    *mocks.PostStoreMock
}

func newRouterFixture() *routerFixture {
	hub := newTestHub()
	messages := new(mocks.MessageStoreMock)
	posts := new(mocks.PostStoreMock)
	return &routerFixture{
		router:   NewRouter(hub, messages, posts, nil, zap.NewNop().Sugar()),
		hub:      hub,
		messages: messages,
		posts:    posts,
	}
}

func envelope(event, ackID string, data interface{}) Envelope {
	raw, _ := json.Marshal(data)
	return Envelope{Event: event, AckID: ackID, Data: raw}
}

func lastAck(t *testing.T, conn *fakeConn) AckPayload {
	t.Helper()
	acks := conn.named(EventAck)
	require.NotEmpty(t, acks)
	return acks[len(acks)-1].Data.(AckPayload)
}

func TestSendTextToOnlineReceiver(t *testing.T) {
	f := newRouterFixture()
	sender, receiver := uuid.New(), uuid.New()
	senderConn, receiverConn := &fakeConn{}, &fakeConn{}
	f.hub.Add(sender, senderConn)
	f.hub.Add(receiver, receiverConn)

	msgID := uuid.New()
	f.messages.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Message).ID = msgID
	}).Return(nil).Once()
	f.messages.On("MarkDelivered", mock.Anything, []uuid.UUID{msgID}).Return([]uuid.UUID{msgID}, nil).Once()

	f.router.Dispatch(sender, senderConn, envelope(EventSendText, "a1", SendTextPayload{To: receiver.String(), Text: "hello"}))

	// Receiver: exactly one new_message with the content, then one delivered tick.
	newMsgs := receiverConn.named(EventNewMessage)
	require.Len(t, newMsgs, 1)
	got := newMsgs[0].Data.(*models.Message)
	assert.Equal(t, sender, got.SenderID)
	assert.Equal(t, receiver, got.ReceiverID)
	require.NotNil(t, got.Text)
	assert.Equal(t, "hello", *got.Text)

	require.Len(t, receiverConn.named(EventMessageDelivered), 1)
	assert.Equal(t, msgID, receiverConn.named(EventMessageDelivered)[0].Data.(DeliveredPayload).MessageID)
	assert.Equal(t, models.StatusDelivered, got.Status)

	// Sender mirror plus notification to the receiver only.
	assert.Len(t, senderConn.named(EventNewMessage), 1)
	assert.Len(t, senderConn.named(EventMessageDelivered), 1)
	assert.Len(t, receiverConn.named(EventNotification), 1)
	assert.Empty(t, senderConn.named(EventNotification))

	ack := lastAck(t, senderConn)
	assert.True(t, ack.OK)
	assert.Equal(t, "a1", ack.AckID)
	f.messages.AssertExpectations(t)
}

func TestSendTextToOfflineReceiverStaysSent(t *testing.T) {
	f := newRouterFixture()
	sender, receiver := uuid.New(), uuid.New()
	senderConn := &fakeConn{}
	f.hub.Add(sender, senderConn)

	f.messages.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Message).ID = uuid.New()
	}).Return(nil).Once()

	f.router.Dispatch(sender, senderConn, envelope(EventSendText, "", SendTextPayload{To: receiver.String(), Text: "anyone home"}))

	assert.Len(t, senderConn.named(EventNewMessage), 1)
	assert.Empty(t, senderConn.named(EventMessageDelivered))
	f.messages.AssertNotCalled(t, "MarkDelivered", mock.Anything, mock.Anything)
}

func TestSendTextStorageFailure(t *testing.T) {
	f := newRouterFixture()
	sender := uuid.New()
	senderConn := &fakeConn{}
	f.hub.Add(sender, senderConn)

	f.messages.On("Create", mock.Anything, mock.Anything).Return(assert.AnError).Once()

	f.router.Dispatch(sender, senderConn, envelope(EventSendText, "a2", SendTextPayload{To: uuid.New().String(), Text: "hi"}))

	// Nothing fanned out, and the failure is surfaced through the ack.
	assert.Empty(t, senderConn.named(EventNewMessage))
	ack := lastAck(t, senderConn)
	assert.False(t, ack.OK)
	assert.Equal(t, CodeStorage, ack.Error.Code)
}

func TestSendTextValidation(t *testing.T) {
	f := newRouterFixture()
	sender := uuid.New()
	senderConn := &fakeConn{}
	f.hub.Add(sender, senderConn)

	cases := []struct {
		name string
		data interface{}
	}{
		{"empty text", SendTextPayload{To: uuid.New().String(), Text: ""}},
		{"missing to", SendTextPayload{Text: "hi"}},
		{"to not a uuid", SendTextPayload{To: "bob", Text: "hi"}},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.router.Dispatch(sender, senderConn, envelope(EventSendText, fmt.Sprintf("v%d", i), tc.data))
			ack := lastAck(t, senderConn)
			assert.False(t, ack.OK)
			assert.Equal(t, CodeValidation, ack.Error.Code)
		})
	}
	f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	f := newRouterFixture()
	sender := uuid.New()
	senderConn := &fakeConn{}
	f.hub.Add(sender, senderConn)

	f.router.Dispatch(sender, senderConn, Envelope{Event: EventSendText, AckID: "m1", Data: json.RawMessage(`{"to":`)})

	ack := lastAck(t, senderConn)
	assert.False(t, ack.OK)
	assert.Equal(t, CodeValidation, ack.Error.Code)
	f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestUnknownEvent(t *testing.T) {
	f := newRouterFixture()
	sender := uuid.New()
	senderConn := &fakeConn{}

	f.router.Dispatch(sender, senderConn, Envelope{Event: "warp_drive", AckID: "u1"})

	ack := lastAck(t, senderConn)
	assert.False(t, ack.OK)
	assert.Equal(t, CodeValidation, ack.Error.Code)
}

func TestSharePostValidatesExistence(t *testing.T) {
	f := newRouterFixture()
	sender, receiver := uuid.New(), uuid.New()
	senderConn := &fakeConn{}
	f.hub.Add(sender, senderConn)
	postID := uuid.New()

	f.posts.On("Exists", mock.Anything, postID).Return(false, nil).Once()

	f.router.Dispatch(sender, senderConn, envelope(EventSharePost, "s1", SharePostPayload{To: receiver.String(), PostID: postID.String()}))

	ack := lastAck(t, senderConn)
	assert.False(t, ack.OK)
	assert.Equal(t, CodeNotFound, ack.Error.Code)
	f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSharePostFansOut(t *testing.T) {
	f := newRouterFixture()
	sender, receiver := uuid.New(), uuid.New()
	senderConn, receiverConn := &fakeConn{}, &fakeConn{}
	f.hub.Add(sender, senderConn)
	f.hub.Add(receiver, receiverConn)
	postID, msgID := uuid.New(), uuid.New()

	f.posts.On("Exists", mock.Anything, postID).Return(true, nil).Once()
	f.messages.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		msg := args.Get(1).(*models.Message)
		msg.ID = msgID
		assert.Equal(t, models.KindSharedPost, msg.Kind)
		require.NotNil(t, msg.SharedPostID)
		assert.Equal(t, postID, *msg.SharedPostID)
	}).Return(nil).Once()
	f.messages.On("MarkDelivered", mock.Anything, []uuid.UUID{msgID}).Return([]uuid.UUID{msgID}, nil).Once()

	f.router.Dispatch(sender, senderConn, envelope(EventSharePost, "", SharePostPayload{To: receiver.String(), PostID: postID.String()}))

	assert.Len(t, receiverConn.named(EventNewMessage), 1)
	assert.Len(t, receiverConn.named(EventMessageDelivered), 1)
	f.messages.AssertExpectations(t)
	f.posts.AssertExpectations(t)
}

func TestTypingReachesOnlyTheTarget(t *testing.T) {
	f := newRouterFixture()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	connA, connB, connC := &fakeConn{}, &fakeConn{}, &fakeConn{}
	f.hub.Add(a, connA)
	f.hub.Add(b, connB)
	f.hub.Add(c, connC)

	f.router.Dispatch(a, connA, envelope(EventTyping, "", TypingPayload{To: b.String()}))
	f.router.Dispatch(a, connA, envelope(EventStopTyping, "", TypingPayload{To: b.String()}))

	require.Len(t, connB.named(EventTyping), 1)
	assert.Equal(t, a, connB.named(EventTyping)[0].Data.(FromPayload).From)
	assert.Len(t, connB.named(EventStopTyping), 1)

	assert.Empty(t, connA.named(EventTyping))
	assert.Empty(t, connC.named(EventTyping))
	assert.Empty(t, connC.named(EventStopTyping))
}

func TestSeenAckMarksAndNotifiesSender(t *testing.T) {
	f := newRouterFixture()
	sender, receiver := uuid.New(), uuid.New()
	senderConn, receiverConn := &fakeConn{}, &fakeConn{}
	f.hub.Add(sender, senderConn)
	f.hub.Add(receiver, receiverConn)

	m1, m2 := uuid.New(), uuid.New()
	f.messages.On("MarkSeen", mock.Anything, sender, receiver, []uuid.UUID{m1, m2}, mock.Anything).
		Return([]uuid.UUID{m1, m2}, nil).Once()

	f.router.Dispatch(receiver, receiverConn, envelope(EventSeenAck, "k1", SeenAckPayload{
		From: sender.String(),
		IDs:  []string{m1.String(), m2.String()},
	}))

	seen := senderConn.named(EventMessagesSeen)
	require.Len(t, seen, 1)
	assert.ElementsMatch(t, []uuid.UUID{m1, m2}, seen[0].Data.(MessagesSeenPayload).IDs)
	assert.True(t, lastAck(t, receiverConn).OK)
	f.messages.AssertExpectations(t)
}

func TestSeenAckReplayEmitsNothing(t *testing.T) {
	f := newRouterFixture()
	sender, receiver := uuid.New(), uuid.New()
	senderConn, receiverConn := &fakeConn{}, &fakeConn{}
	f.hub.Add(sender, senderConn)
	f.hub.Add(receiver, receiverConn)

	m1 := uuid.New()
	f.messages.On("MarkSeen", mock.Anything, sender, receiver, []uuid.UUID{m1}, mock.Anything).
		Return([]uuid.UUID{}, nil).Once()

	f.router.Dispatch(receiver, receiverConn, envelope(EventSeenAck, "k2", SeenAckPayload{
		From: sender.String(),
		IDs:  []string{m1.String()},
	}))

	assert.Empty(t, senderConn.named(EventMessagesSeen))
	assert.True(t, lastAck(t, receiverConn).OK)
}

func TestDeleteForEveryoneBySender(t *testing.T) {
	f := newRouterFixture()
	sender, receiver := uuid.New(), uuid.New()
	senderConn, receiverConn := &fakeConn{}, &fakeConn{}
	f.hub.Add(sender, senderConn)
	f.hub.Add(receiver, receiverConn)

	msgID := uuid.New()
	f.messages.On("ByID", mock.Anything, msgID).
		Return(&models.Message{ID: msgID, SenderID: sender, ReceiverID: receiver}, nil).Once()
	f.messages.On("FlagDeletedForEveryone", mock.Anything, msgID).Return(nil).Once()

	f.router.Dispatch(sender, senderConn, envelope(EventDeleteMessage, "d1", DeleteMessagePayload{
		MessageID: msgID.String(),
		Mode:      "everyone",
	}))

	require.Len(t, senderConn.named(EventMessageDeleted), 1)
	require.Len(t, receiverConn.named(EventMessageDeleted), 1)
	assert.Equal(t, msgID, receiverConn.named(EventMessageDeleted)[0].Data.(MessageDeletedPayload).MessageID)
	assert.True(t, lastAck(t, senderConn).OK)
	f.messages.AssertExpectations(t)
}

func TestDeleteForEveryoneByNonSenderIsForbidden(t *testing.T) {
	f := newRouterFixture()
	sender, receiver := uuid.New(), uuid.New()
	receiverConn := &fakeConn{}
	f.hub.Add(receiver, receiverConn)

	msgID := uuid.New()
	f.messages.On("ByID", mock.Anything, msgID).
		Return(&models.Message{ID: msgID, SenderID: sender, ReceiverID: receiver}, nil).Once()

	f.router.Dispatch(receiver, receiverConn, envelope(EventDeleteMessage, "d2", DeleteMessagePayload{
		MessageID: msgID.String(),
		Mode:      "everyone",
	}))

	ack := lastAck(t, receiverConn)
	assert.False(t, ack.OK)
	assert.Equal(t, CodeForbidden, ack.Error.Code)
	f.messages.AssertNotCalled(t, "FlagDeletedForEveryone", mock.Anything, mock.Anything)
	assert.Empty(t, receiverConn.named(EventMessageDeleted))
}

func TestDeleteAlreadyDeletedSucceeds(t *testing.T) {
	f := newRouterFixture()
	caller := uuid.New()
	conn := &fakeConn{}
	f.hub.Add(caller, conn)

	msgID := uuid.New()
	f.messages.On("ByID", mock.Anything, msgID).Return(nil, store.ErrNotFound).Once()

	f.router.Dispatch(caller, conn, envelope(EventDeleteMessage, "d3", DeleteMessagePayload{
		MessageID: msgID.String(),
		Mode:      "everyone",
	}))

	assert.True(t, lastAck(t, conn).OK)
}

func TestDeleteForMeTouchesNothing(t *testing.T) {
	f := newRouterFixture()
	caller := uuid.New()
	conn := &fakeConn{}
	f.hub.Add(caller, conn)

	f.router.Dispatch(caller, conn, envelope(EventDeleteMessage, "d4", DeleteMessagePayload{
		MessageID: uuid.New().String(),
		Mode:      "me",
	}))

	assert.True(t, lastAck(t, conn).OK)
	f.messages.AssertNotCalled(t, "ByID", mock.Anything, mock.Anything)
	f.messages.AssertNotCalled(t, "FlagDeletedForEveryone", mock.Anything, mock.Anything)
}

func TestDeleteRejectsUnknownMode(t *testing.T) {
	f := newRouterFixture()
	caller := uuid.New()
	conn := &fakeConn{}
	f.hub.Add(caller, conn)

	f.router.Dispatch(caller, conn, envelope(EventDeleteMessage, "d5", DeleteMessagePayload{
		MessageID: uuid.New().String(),
		Mode:      "both",
	}))

	ack := lastAck(t, conn)
	assert.False(t, ack.OK)
	assert.Equal(t, CodeValidation, ack.Error.Code)
}

func TestClearChatForEveryone(t *testing.T) {
	f := newRouterFixture()
	caller, counterpart := uuid.New(), uuid.New()
	callerConn, counterpartConn := &fakeConn{}, &fakeConn{}
	f.hub.Add(caller, callerConn)
	f.hub.Add(counterpart, counterpartConn)

	f.messages.On("ClearConversation", mock.Anything, caller, counterpart).Return(int64(4), nil).Once()

	f.router.Dispatch(caller, callerConn, envelope(EventClearChat, "c1", ClearChatPayload{
		CounterpartID: counterpart.String(),
		Mode:          "everyone",
	}))

	require.Len(t, callerConn.named(EventChatCleared), 1)
	assert.Equal(t, counterpart, callerConn.named(EventChatCleared)[0].Data.(ChatClearedPayload).With)
	require.Len(t, counterpartConn.named(EventChatCleared), 1)
	assert.Equal(t, caller, counterpartConn.named(EventChatCleared)[0].Data.(ChatClearedPayload).With)
	assert.True(t, lastAck(t, callerConn).OK)
}

func TestClearEmptyChatIsIdempotent(t *testing.T) {
	f := newRouterFixture()
	caller, counterpart := uuid.New(), uuid.New()
	callerConn := &fakeConn{}
	f.hub.Add(caller, callerConn)

	f.messages.On("ClearConversation", mock.Anything, caller, counterpart).Return(int64(0), nil).Once()

	f.router.Dispatch(caller, callerConn, envelope(EventClearChat, "c2", ClearChatPayload{
		CounterpartID: counterpart.String(),
		Mode:          "everyone",
	}))

	assert.True(t, lastAck(t, callerConn).OK)
}

func TestDeliverPendingOnConnect(t *testing.T) {
	f := newRouterFixture()
	sender, receiver := uuid.New(), uuid.New()
	senderConn, receiverConn := &fakeConn{}, &fakeConn{}
	f.hub.Add(sender, senderConn)
	f.hub.Add(receiver, receiverConn)

	m1, m2 := uuid.New(), uuid.New()
	pending := []models.Message{
		{ID: m1, SenderID: sender, ReceiverID: receiver, Status: models.StatusSent},
		{ID: m2, SenderID: sender, ReceiverID: receiver, Status: models.StatusSent},
	}
	f.messages.On("PendingFor", mock.Anything, receiver).Return(pending, nil).Once()
	f.messages.On("MarkDelivered", mock.Anything, []uuid.UUID{m1, m2}).Return([]uuid.UUID{m1, m2}, nil).Once()

	f.router.deliverPending(receiver)

	delivered := senderConn.named(EventMessageDelivered)
	require.Len(t, delivered, 2)
	assert.Equal(t, m1, delivered[0].Data.(DeliveredPayload).MessageID)
	assert.Equal(t, m2, delivered[1].Data.(DeliveredPayload).MessageID)
	assert.Len(t, receiverConn.named(EventMessageDelivered), 2)
	f.messages.AssertExpectations(t)
}

func TestFanOutEmitsNoTickWhenSweepWonTheRace(t *testing.T) {
	f := newRouterFixture()
	sender, receiver := uuid.New(), uuid.New()
	senderConn, receiverConn := &fakeConn{}, &fakeConn{}
	f.hub.Add(sender, senderConn)
	f.hub.Add(receiver, receiverConn)

	// The reconnect sweep already advanced the message; the store reports
	// nothing transitioned, so this path must stay silent.
	msg := &models.Message{ID: uuid.New(), SenderID: sender, ReceiverID: receiver, Status: models.StatusSent}
	f.messages.On("MarkDelivered", mock.Anything, []uuid.UUID{msg.ID}).Return([]uuid.UUID{}, nil).Once()

	f.router.FanOutMessage(msg)

	assert.Empty(t, senderConn.named(EventMessageDelivered))
	assert.Empty(t, receiverConn.named(EventMessageDelivered))
	f.messages.AssertExpectations(t)
}

func TestDeliverPendingTicksOnlyAdvancedMessages(t *testing.T) {
	f := newRouterFixture()
	sender, receiver := uuid.New(), uuid.New()
	senderConn, receiverConn := &fakeConn{}, &fakeConn{}
	f.hub.Add(sender, senderConn)
	f.hub.Add(receiver, receiverConn)

	m1, m2 := uuid.New(), uuid.New()
	pending := []models.Message{
		{ID: m1, SenderID: sender, ReceiverID: receiver, Status: models.StatusSent},
		{ID: m2, SenderID: sender, ReceiverID: receiver, Status: models.StatusSent},
	}
	f.messages.On("PendingFor", mock.Anything, receiver).Return(pending, nil).Once()
	// A racing live send delivered m1 in between; only m2 transitions here.
	f.messages.On("MarkDelivered", mock.Anything, []uuid.UUID{m1, m2}).Return([]uuid.UUID{m2}, nil).Once()

	f.router.deliverPending(receiver)

	delivered := senderConn.named(EventMessageDelivered)
	require.Len(t, delivered, 1)
	assert.Equal(t, m2, delivered[0].Data.(DeliveredPayload).MessageID)
	assert.Len(t, receiverConn.named(EventMessageDelivered), 1)
}

func TestPresenceScopedToCounterparts(t *testing.T) {
	f := newRouterFixture()
	user, friend, stranger := uuid.New(), uuid.New(), uuid.New()
	friendConn, strangerConn := &fakeConn{}, &fakeConn{}
	f.hub.Add(friend, friendConn)
	f.hub.Add(stranger, strangerConn)

	f.messages.On("CounterpartIDs", mock.Anything, user).Return([]uuid.UUID{friend}, nil).Twice()

	f.router.announcePresence(user, true)
	f.router.announcePresence(user, false)

	require.Len(t, friendConn.named(EventUserOnline), 1)
	assert.Equal(t, user, friendConn.named(EventUserOnline)[0].Data.(PresencePayload).UserID)
	offline := friendConn.named(EventUserOffline)
	require.Len(t, offline, 1)
	assert.NotNil(t, offline[0].Data.(PresencePayload).LastSeen)

	assert.Empty(t, strangerConn.named(EventUserOnline))
	assert.Empty(t, strangerConn.named(EventUserOffline))
}
