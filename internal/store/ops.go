package store

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/google/uuid"

	"chat-client/internal/api"
	"chat-client/internal/events"
	"chat-client/internal/models"
	"chat-client/internal/observability"
)

// LoadChats replaces the chat list from the backend. Chats created locally
// and not yet known to the backend are kept. On failure the list is left
// untouched.
func (s *Store) LoadChats(ctx context.Context) error {
	s.mu.Lock()
	epoch := s.epoch
	s.loading++
	s.commit()

	chats, err := s.api.ListChats(ctx)

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return nil
	}
	s.loading--
	if err != nil {
		s.errMsg = err.Error()
		s.commit()
		log.Printf("store: load chats failed: %v", err)
		return &RequestError{Op: "loadChats", Err: err}
	}
	s.mergeChatsLocked(chats)
	s.errMsg = ""
	s.commit()
	return nil
}

// SetCurrentChat switches the active chat, then loads its messages and marks
// it read. A nil chat clears the message view.
func (s *Store) SetCurrentChat(ctx context.Context, chat *models.Chat) error {
	s.mu.Lock()
	prev := s.currentID()
	s.generation++
	gen, epoch := s.generation, s.epoch

	if chat == nil {
		s.current = nil
		s.stashUnsentLocked()
		s.commit()
		if prev != "" {
			s.emit(events.OutChatLeave, events.ChatRef{ChatID: prev})
		}
		return nil
	}

	cur := chat.Clone()
	if i := s.chatIndex(cur.ID); i >= 0 {
		cur = s.chats[i].Clone()
	} else {
		s.chats = append([]models.Chat{cur.Clone()}, s.chats...)
	}
	if prev != cur.ID {
		s.stashUnsentLocked()
		s.restoreUnsentLocked(cur.ID)
	}
	s.current = &cur
	s.commit()

	if prev != "" && prev != cur.ID {
		s.emit(events.OutChatLeave, events.ChatRef{ChatID: prev})
	}
	s.emit(events.OutChatJoin, events.ChatRef{ChatID: cur.ID})

	if err := s.loadMessages(ctx, cur.ID, gen, epoch); err != nil {
		return err
	}

	s.mu.Lock()
	stale := gen != s.generation
	s.mu.Unlock()
	if stale {
		return nil
	}
	return s.MarkAsRead(ctx, cur.ID)
}

// LoadMessages replaces the active chat's messages from the backend. A
// result that arrives after the active chat changed is dropped.
func (s *Store) LoadMessages(ctx context.Context, chatID string) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoCurrentChat
	}
	if s.current.ID != chatID {
		s.mu.Unlock()
		return ErrNotCurrentChat
	}
	gen, epoch := s.generation, s.epoch
	s.mu.Unlock()
	return s.loadMessages(ctx, chatID, gen, epoch)
}

func (s *Store) loadMessages(ctx context.Context, chatID string, gen, epoch uint64) error {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return nil
	}
	s.loading++
	s.commit()

	msgs, err := s.api.GetMessages(ctx, chatID, 1, s.opts.PageSize)

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return nil
	}
	s.loading--
	if gen != s.generation || s.currentID() != chatID {
		s.commit()
		log.Printf("store: discarded stale messages chat_id=%s", chatID)
		return nil
	}
	if err != nil {
		s.errMsg = err.Error()
		s.commit()
		log.Printf("store: load messages failed chat_id=%s: %v", chatID, err)
		return &RequestError{Op: "loadMessages", Err: err}
	}
	s.replaceMessagesLocked(chatID, msgs)
	s.errMsg = ""
	s.commit()
	return nil
}

// SendMessage appends a pending message to the active chat before any I/O,
// then sends it. The entry ends confirmed, or failed and still visible.
func (s *Store) SendMessage(ctx context.Context, text, receiverID, replyTo string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyText
	}

	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return models.Message{}, ErrNoCurrentChat
	}
	chat := s.currentChatLocked()
	if receiverID == "" && chat.ChatType != models.ChatTypeGroup {
		if peer, ok := chat.Peer(s.self); ok {
			receiverID = peer.ID
		}
	}

	ts := s.opts.Now()
	if n := len(s.messages); n > 0 && ts.Before(s.messages[n-1].msg.Timestamp) {
		ts = s.messages[n-1].msg.Timestamp
	}
	clientID := uuid.NewString()
	msg := models.Message{
		ID:          clientID,
		ClientID:    clientID,
		ChatID:      chat.ID,
		SenderID:    s.self,
		ReceiverID:  receiverID,
		Text:        text,
		Timestamp:   ts,
		ReplyTo:     replyTo,
		MessageType: models.MessageTypeText,
		Status:      models.MessagePending,
	}
	s.insertLocked(entry{msg: msg, seq: s.nextSeq()})
	if i := s.chatIndex(chat.ID); i >= 0 {
		s.touchChatLocked(i, msg)
		s.sortChatsLocked()
	}
	epoch := s.epoch
	s.commit()

	return s.deliver(ctx, msg, epoch)
}

// ResendMessage retries a failed send under its original correlation id.
func (s *Store) ResendMessage(ctx context.Context, clientID string) (models.Message, error) {
	s.mu.Lock()
	var target *entry
	if i := s.clientIndex(clientID); i >= 0 {
		target = &s.messages[i]
	} else if chatID, i := s.unsentIndex(clientID); i >= 0 {
		target = &s.unsent[chatID][i]
	}
	if target == nil {
		s.mu.Unlock()
		return models.Message{}, ErrMessageNotFound
	}
	if target.msg.Status != models.MessageFailed {
		s.mu.Unlock()
		return models.Message{}, ErrNotFailed
	}
	target.msg.Status = models.MessagePending
	msg := target.msg
	if ci := s.chatIndex(msg.ChatID); ci >= 0 {
		s.touchChatLocked(ci, msg)
	}
	epoch := s.epoch
	s.commit()

	return s.deliver(ctx, msg, epoch)
}

func (s *Store) deliver(ctx context.Context, msg models.Message, epoch uint64) (models.Message, error) {
	res, err := s.api.SendMessage(ctx, msg.ChatID, api.SendMessageRequest{
		Text:        msg.Text,
		ReceiverID:  msg.ReceiverID,
		ReplyTo:     msg.ReplyTo,
		ClientID:    msg.ClientID,
		MessageType: msg.MessageType,
	})

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		if err != nil {
			return msg, &RequestError{Op: "sendMessage", Err: err}
		}
		return res, nil
	}

	if err != nil {
		msg.Status = models.MessageFailed
		if i := s.clientIndex(msg.ClientID); i >= 0 && s.messages[i].msg.Status == models.MessagePending {
			s.messages[i].msg.Status = models.MessageFailed
			msg = s.messages[i].msg
		} else if chatID, i := s.unsentIndex(msg.ClientID); i >= 0 && s.unsent[chatID][i].msg.Status == models.MessagePending {
			s.unsent[chatID][i].msg.Status = models.MessageFailed
			msg = s.unsent[chatID][i].msg
		}
		if ci := s.chatIndex(msg.ChatID); ci >= 0 {
			if last := s.chats[ci].LastMessage; last != nil && last.ClientID == msg.ClientID && last.Status == models.MessagePending {
				last.Status = models.MessageFailed
			}
		}
		s.errMsg = err.Error()
		s.commit()
		observability.IncMessageSend("failed")
		log.Printf("store: send failed client_id=%s chat_id=%s: %v", msg.ClientID, msg.ChatID, err)
		return msg, &RequestError{Op: "sendMessage", Err: err}
	}

	out, _ := s.applyMessageLocked(confirmed(fillSent(res, msg)))
	s.commit()
	observability.IncMessageSend("confirmed")

	s.emit(events.OutMessageSend, events.MessageRef{
		ChatID:     out.ChatID,
		MessageID:  out.ID,
		ClientID:   msg.ClientID,
		ReceiverID: msg.ReceiverID,
		Text:       out.Text,
	})
	return out, nil
}

// fillSent completes a send response with what the client already knows.
func fillSent(res, sent models.Message) models.Message {
	if res.ID == "" {
		res.ID = sent.ID
	}
	if res.ClientID == "" {
		res.ClientID = sent.ClientID
	}
	if res.ChatID == "" {
		res.ChatID = sent.ChatID
	}
	if res.SenderID == "" {
		res.SenderID = sent.SenderID
	}
	if res.ReceiverID == "" {
		res.ReceiverID = sent.ReceiverID
	}
	if res.Text == "" {
		res.Text = sent.Text
	}
	if res.ReplyTo == "" {
		res.ReplyTo = sent.ReplyTo
	}
	if res.MessageType == "" {
		res.MessageType = sent.MessageType
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = sent.Timestamp
	}
	return res
}

// EditMessage changes the text of one of the user's confirmed messages once
// the backend accepted it.
func (s *Store) EditMessage(ctx context.Context, messageID, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyText
	}

	s.mu.Lock()
	msg, err := s.ownedLocked(messageID)
	epoch := s.epoch
	s.mu.Unlock()
	if err != nil {
		return models.Message{}, err
	}

	if _, err := s.api.EditMessage(ctx, messageID, text); err != nil {
		return models.Message{}, s.fail("editMessage", err)
	}

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return msg, nil
	}
	out, _ := s.applyEditLocked(messageID, text)
	s.commit()

	s.emit(events.OutMessageEdit, events.MessageRef{
		ChatID:     msg.ChatID,
		MessageID:  messageID,
		ReceiverID: msg.ReceiverID,
		Text:       text,
	})
	return out, nil
}

// DeleteMessage tombstones one of the user's confirmed messages once the
// backend accepted it. The message keeps its slot.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	s.mu.Lock()
	msg, err := s.ownedLocked(messageID)
	epoch := s.epoch
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.api.DeleteMessage(ctx, messageID); err != nil {
		return s.fail("deleteMessage", err)
	}

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return nil
	}
	s.applyDeleteLocked(messageID)
	s.commit()

	s.emit(events.OutMessageDelete, events.MessageRef{
		ChatID:     msg.ChatID,
		MessageID:  messageID,
		ReceiverID: msg.ReceiverID,
	})
	return nil
}

func (s *Store) ownedLocked(messageID string) (models.Message, error) {
	i := s.messageIndex(messageID)
	if i < 0 {
		return models.Message{}, ErrMessageNotFound
	}
	m := s.messages[i].msg
	switch {
	case m.SenderID != s.self:
		return m, ErrNotOwner
	case m.Status != models.MessageConfirmed:
		return m, ErrNotConfirmed
	case m.IsDeleted:
		return m, ErrMessageDeleted
	}
	return m, nil
}

// MarkAsRead zeroes the chat's unread counter and marks every message from
// other users read, then acknowledges them to the backend: over the socket
// while it is up, otherwise over REST. The local update stays even if the
// backend call fails.
func (s *Store) MarkAsRead(ctx context.Context, chatID string) error {
	s.mu.Lock()
	ci := s.chatIndex(chatID)
	hadUnread := ci >= 0 && s.chats[ci].UnreadCount > 0

	var ids []string
	for i := range s.messages {
		m := &s.messages[i].msg
		if m.ChatID != chatID || m.SenderID == s.self || m.IsRead {
			continue
		}
		m.IsRead = true
		if m.Status == models.MessageConfirmed {
			ids = append(ids, m.ID)
		}
	}
	if ci >= 0 {
		s.chats[ci].UnreadCount = 0
		if last := s.chats[ci].LastMessage; last != nil && last.SenderID != s.self {
			last.IsRead = true
		}
	}
	live := s.connection == models.StateConnected
	s.commit()

	if len(ids) == 0 && !hadUnread {
		return nil
	}
	if ids == nil {
		ids = []string{}
	}
	if live {
		s.emit(events.OutMessageMarkRead, events.MarkReadPayload{ChatID: chatID, MessageIDs: ids})
		return nil
	}
	if err := s.api.MarkRead(ctx, chatID, ids); err != nil {
		return s.fail("markAsRead", err)
	}
	return nil
}

// StartTyping tells the peers of the active chat that the user is typing.
func (s *Store) StartTyping() error {
	return s.emitTyping(events.OutTypingStart)
}

// StopTyping clears the user's typing indicator on the peers' side.
func (s *Store) StopTyping() error {
	return s.emitTyping(events.OutTypingStop)
}

func (s *Store) emitTyping(event string) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoCurrentChat
	}
	chat := s.currentChatLocked()
	payload := events.TypingPayload{ChatID: chat.ID}
	if chat.ChatType != models.ChatTypeGroup {
		if peer, ok := chat.Peer(s.self); ok {
			payload.ReceiverID = peer.ID
		}
	}
	s.mu.Unlock()

	s.emit(event, payload)
	return nil
}

// CreateChat returns the direct chat with participantID, creating a local
// one if none exists. Concurrent calls for the same participant return the
// same chat.
func (s *Store) CreateChat(participantID string) (models.Chat, error) {
	participantID = strings.TrimSpace(participantID)

	s.mu.Lock()
	if participantID == "" || participantID == s.self {
		s.mu.Unlock()
		return models.Chat{}, ErrInvalidParticipant
	}
	for _, c := range s.chats {
		if c.ChatType == models.ChatTypeDirect && c.HasParticipant(participantID) {
			out := c.Clone()
			s.mu.Unlock()
			return out, nil
		}
	}

	chat := models.Chat{
		ID:           uuid.NewString(),
		ChatType:     models.ChatTypeDirect,
		LastActivity: s.opts.Now(),
	}
	if s.self != "" {
		chat.Participants = append(chat.Participants, models.ChatUser{ID: s.self})
	}
	chat.Participants = append(chat.Participants, models.ChatUser{ID: participantID})

	s.chats = append([]models.Chat{chat}, s.chats...)
	s.localChats[chat.ID] = true
	out := chat.Clone()
	s.commit()

	log.Printf("store: created local chat chat_id=%s participant=%s", out.ID, participantID)
	return out, nil
}

func (s *Store) mergeChatsLocked(incoming []models.Chat) {
	current := s.currentID()
	merged := make([]models.Chat, 0, len(incoming)+len(s.localChats))
	seen := make(map[string]bool, len(incoming))

	for _, c := range incoming {
		c = c.Clone()
		if c.ChatType == "" {
			c.ChatType = models.ChatTypeDirect
		}
		if c.LastMessage != nil {
			last := confirmed(*c.LastMessage)
			c.LastMessage = &last
		}
		if c.ID == current {
			c.UnreadCount = 0
		}
		seen[c.ID] = true
		merged = append(merged, c)
	}

	for _, c := range s.chats {
		if !s.localChats[c.ID] {
			continue
		}
		if seen[c.ID] {
			delete(s.localChats, c.ID)
			continue
		}
		if peer, ok := c.Peer(s.self); ok && c.ID != current && hasDirectChat(merged, peer.ID) {
			delete(s.localChats, c.ID)
			continue
		}
		merged = append(merged, c)
	}

	s.chats = merged
	s.sortChatsLocked()
}

func hasDirectChat(chats []models.Chat, userID string) bool {
	for _, c := range chats {
		if c.ChatType == models.ChatTypeDirect && c.HasParticipant(userID) {
			return true
		}
	}
	return false
}

// stashUnsentLocked parks the unconfirmed sends of the open message list
// and empties it. They come back when their chat is opened again.
func (s *Store) stashUnsentLocked() {
	for _, e := range s.messages {
		if e.msg.Status != models.MessageConfirmed {
			s.unsent[e.msg.ChatID] = append(s.unsent[e.msg.ChatID], e)
		}
	}
	s.messages = nil
}

func (s *Store) restoreUnsentLocked(chatID string) {
	for _, e := range s.unsent[chatID] {
		s.insertLocked(e)
	}
	delete(s.unsent, chatID)
}

func (s *Store) unsentIndex(clientID string) (string, int) {
	if clientID == "" {
		return "", -1
	}
	for chatID, list := range s.unsent {
		for i, e := range list {
			if e.msg.ClientID == clientID {
				return chatID, i
			}
		}
	}
	return "", -1
}

func (s *Store) dropUnsentLocked(clientID string) {
	chatID, i := s.unsentIndex(clientID)
	if i < 0 {
		return
	}
	list := append(s.unsent[chatID][:i:i], s.unsent[chatID][i+1:]...)
	if len(list) == 0 {
		delete(s.unsent, chatID)
		return
	}
	s.unsent[chatID] = list
}

func (s *Store) replaceMessagesLocked(chatID string, msgs []models.Message) {
	loaded := make(map[string]bool, len(msgs))
	entries := make([]entry, 0, len(msgs))
	for _, m := range msgs {
		if m.ChatID == "" {
			m.ChatID = chatID
		}
		m = confirmed(m)
		loaded[m.ID] = true
		if m.ClientID != "" {
			loaded[m.ClientID] = true
		}
		entries = append(entries, entry{msg: m})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].msg.Timestamp.Before(entries[j].msg.Timestamp)
	})
	for i := range entries {
		entries[i].seq = s.nextSeq()
	}

	var unsent []entry
	for _, e := range s.messages {
		if e.msg.ChatID == chatID && e.msg.Status != models.MessageConfirmed && !loaded[e.msg.ClientID] {
			unsent = append(unsent, e)
		}
	}

	s.messages = entries
	for _, e := range unsent {
		s.insertLocked(e)
	}

	if n := len(entries); n > 0 {
		if ci := s.chatIndex(chatID); ci >= 0 {
			s.touchChatLocked(ci, entries[n-1].msg)
			s.sortChatsLocked()
		}
	}
}
