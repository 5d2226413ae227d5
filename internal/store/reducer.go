package store

import (
	"log"
	"time"

	"chat-client/internal/events"
	"chat-client/internal/models"
)

// Dispatch applies one inbound realtime event.
func (s *Store) Dispatch(evt events.Inbound) {
	s.mu.Lock()
	changed := true

	switch e := evt.(type) {
	case events.MessageNew:
		s.applyMessageLocked(confirmed(e.Message))
	case events.MessageEdited:
		_, changed = s.applyEditLocked(e.MessageID, e.Text)
	case events.MessageDeleted:
		changed = s.applyDeleteLocked(e.MessageID)
	case events.UserTyping:
		changed = s.applyTypingLocked(e)
	case events.MessagesRead:
		changed = s.applyReadLocked(e)
	case events.UserOnline:
		changed = s.applyPresenceLocked(e.UserID, true, nil)
	case events.UserOffline:
		seen := e.LastSeen
		if seen == nil {
			now := s.opts.Now()
			seen = &now
		}
		changed = s.applyPresenceLocked(e.UserID, false, seen)
	case events.UnreadMessagesCount:
		changed = false
		for _, c := range e.Chats {
			changed = s.setUnreadLocked(c.ChatID, c.UnreadCount) || changed
		}
	case events.UnreadCountUpdated:
		changed = s.setUnreadLocked(e.ChatID, e.UnreadCount)
	case events.RecentConversations:
		s.mergeChatsLocked(e.Chats)
	case events.AuthError:
		s.connErr = "authentication failed: " + e.Message
	case events.ConnectError:
		s.connErr = "connection failed: " + e.Message
	case events.Disconnect:
		changed = false
		log.Printf("store: transport disconnected reason=%q", e.Reason)
	default:
		changed = false
		log.Printf("store: unhandled event %T", evt)
	}

	if !changed {
		s.mu.Unlock()
		return
	}
	s.commit()
}

// applyMessageLocked merges a confirmed message. The same logical message
// applied twice, or applied after its optimistic entry, leaves one entry.
// It reports whether the message was new.
func (s *Store) applyMessageLocked(m models.Message) (models.Message, bool) {
	ci := s.chatIndex(m.ChatID)
	if ci < 0 {
		chat := models.Chat{ID: m.ChatID, ChatType: models.ChatTypeDirect, LastActivity: m.Timestamp}
		peer := m.SenderID
		if peer == s.self {
			peer = m.ReceiverID
		}
		if peer != "" {
			chat.Participants = []models.ChatUser{{ID: peer}}
		}
		s.chats = append(s.chats, chat)
		ci = len(s.chats) - 1
	}

	isNew := true
	stored := m
	if m.ChatID == s.currentID() {
		if i := s.reconcileIndex(m); i >= 0 {
			isNew = false
			old := s.removeLocked(i)
			stored = mergeEcho(old.msg, m)
			s.insertLocked(entry{msg: stored, seq: old.seq})
		} else {
			s.insertLocked(entry{msg: m, seq: s.nextSeq()})
		}
	} else {
		if last := s.chats[ci].LastMessage; last != nil && sameMessage(*last, m) {
			isNew = false
			stored = mergeEcho(*last, m)
		}
		s.dropUnsentLocked(m.ClientID)
	}

	s.touchChatLocked(ci, stored)
	if isNew && m.SenderID != s.self && m.ChatID != s.currentID() {
		s.chats[ci].UnreadCount++
	}
	s.removeTypingLocked(m.ChatID, m.SenderID)
	s.sortChatsLocked()
	return stored, isNew
}

// reconcileIndex finds the entry m confirms: by server id, then by
// correlation id, then an own pending entry with the same chat and text sent
// within the reconcile window.
func (s *Store) reconcileIndex(m models.Message) int {
	if i := s.messageIndex(m.ID); i >= 0 {
		return i
	}
	if i := s.clientIndex(m.ClientID); i >= 0 {
		return i
	}
	if m.SenderID == "" || m.SenderID != s.self {
		return -1
	}
	for i, e := range s.messages {
		p := e.msg
		if p.Status != models.MessagePending || p.ChatID != m.ChatID || p.SenderID != m.SenderID || p.Text != m.Text {
			continue
		}
		if absDuration(m.Timestamp.Sub(p.Timestamp)) <= s.opts.ReconcileWindow {
			return i
		}
	}
	return -1
}

func sameMessage(a, b models.Message) bool {
	return a.ID == b.ID || (b.ClientID != "" && a.ClientID == b.ClientID)
}

// mergeEcho folds a server copy into the entry it confirms. Edits and
// deletes already applied to a confirmed entry survive a replayed copy.
func mergeEcho(existing, incoming models.Message) models.Message {
	out := incoming
	if out.ClientID == "" {
		out.ClientID = existing.ClientID
	}
	out.IsRead = existing.IsRead || incoming.IsRead
	if existing.Status == models.MessageConfirmed {
		if existing.IsEdited && !incoming.IsEdited {
			out.IsEdited = true
			out.Text = existing.Text
		}
		if existing.IsDeleted {
			out.IsDeleted = true
			out.Text = existing.Text
		}
	}
	out.Status = models.MessageConfirmed
	return out
}

func (s *Store) applyEditLocked(messageID, text string) (models.Message, bool) {
	var out models.Message
	changed := false
	if i := s.messageIndex(messageID); i >= 0 {
		m := &s.messages[i].msg
		if !m.IsDeleted && (m.Text != text || !m.IsEdited) {
			m.Text = text
			m.IsEdited = true
			changed = true
		}
		out = *m
	}
	for i := range s.chats {
		last := s.chats[i].LastMessage
		if last != nil && last.ID == messageID && !last.IsDeleted && (last.Text != text || !last.IsEdited) {
			last.Text = text
			last.IsEdited = true
			changed = true
		}
	}
	return out, changed
}

func (s *Store) applyDeleteLocked(messageID string) bool {
	changed := false
	if i := s.messageIndex(messageID); i >= 0 {
		m := &s.messages[i].msg
		if !m.IsDeleted {
			m.IsDeleted = true
			m.Text = models.DeletedText
			changed = true
		}
	}
	for i := range s.chats {
		last := s.chats[i].LastMessage
		if last != nil && last.ID == messageID && !last.IsDeleted {
			last.IsDeleted = true
			last.Text = models.DeletedText
			changed = true
		}
	}
	return changed
}

func (s *Store) applyTypingLocked(e events.UserTyping) bool {
	if e.UserID == "" || e.UserID == s.self {
		return false
	}
	if !e.IsTyping {
		return s.removeTypingLocked(e.ChatID, e.UserID)
	}
	s.refreshTypingLocked(e.ChatID, e.UserID, e.UserName)
	return true
}

// applyReadLocked marks messages not sent by the reader as read. No ids
// means all of them.
func (s *Store) applyReadLocked(e events.MessagesRead) bool {
	only := make(map[string]bool, len(e.MessageIDs))
	for _, id := range e.MessageIDs {
		only[id] = true
	}
	read := func(m *models.Message) bool {
		if m.ChatID != e.ChatID || m.SenderID == e.ReaderID || m.IsRead {
			return false
		}
		if len(only) > 0 && !only[m.ID] {
			return false
		}
		m.IsRead = true
		return true
	}

	changed := false
	for i := range s.messages {
		changed = read(&s.messages[i].msg) || changed
	}
	if ci := s.chatIndex(e.ChatID); ci >= 0 {
		if last := s.chats[ci].LastMessage; last != nil {
			changed = read(last) || changed
		}
		if e.ReaderID == s.self && s.chats[ci].UnreadCount != 0 {
			s.chats[ci].UnreadCount = 0
			changed = true
		}
	}
	return changed
}

func (s *Store) applyPresenceLocked(userID string, online bool, lastSeen *time.Time) bool {
	changed := false
	update := func(p *models.ChatUser) {
		if p.ID != userID {
			return
		}
		p.IsOnline = online
		if lastSeen != nil {
			seen := *lastSeen
			p.LastSeen = &seen
		}
		changed = true
	}
	for i := range s.chats {
		for j := range s.chats[i].Participants {
			update(&s.chats[i].Participants[j])
		}
	}
	if s.current != nil {
		for j := range s.current.Participants {
			update(&s.current.Participants[j])
		}
	}
	return changed
}

func (s *Store) setUnreadLocked(chatID string, count int) bool {
	ci := s.chatIndex(chatID)
	if ci < 0 {
		return false
	}
	if count < 0 {
		count = 0
	}
	if chatID == s.currentID() {
		count = 0
	}
	if s.chats[ci].UnreadCount == count {
		return false
	}
	s.chats[ci].UnreadCount = count
	return true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
