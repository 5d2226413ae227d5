package store

import (
	"time"

	"chat-client/internal/models"
	"chat-client/internal/observability"
)

type typingEntry struct {
	user  models.TypingUser
	token uint64
	timer *time.Timer
}

func (s *Store) typingIndex(chatID, userID string) int {
	for i, t := range s.typing {
		if t.user.ChatID == chatID && t.user.UserID == userID {
			return i
		}
	}
	return -1
}

// refreshTypingLocked inserts or extends an indicator. Each refresh arms a
// new timer; a timer only removes the entry it was armed for.
func (s *Store) refreshTypingLocked(chatID, userID, userName string) {
	s.typingSeq++
	token := s.typingSeq
	expires := s.opts.Now().Add(s.opts.TypingWindow)

	i := s.typingIndex(chatID, userID)
	if i < 0 {
		s.typing = append(s.typing, &typingEntry{})
		i = len(s.typing) - 1
	} else {
		s.typing[i].timer.Stop()
		if userName == "" {
			userName = s.typing[i].user.UserName
		}
	}

	t := s.typing[i]
	t.user = models.TypingUser{ChatID: chatID, UserID: userID, UserName: userName, ExpiresAt: expires}
	t.token = token
	t.timer = time.AfterFunc(s.opts.TypingWindow, func() {
		s.expireTyping(chatID, userID, token)
	})
	observability.SetTypingUsers(len(s.typing))
}

func (s *Store) removeTypingLocked(chatID, userID string) bool {
	i := s.typingIndex(chatID, userID)
	if i < 0 {
		return false
	}
	s.typing[i].timer.Stop()
	s.typing = append(s.typing[:i], s.typing[i+1:]...)
	observability.SetTypingUsers(len(s.typing))
	return true
}

func (s *Store) expireTyping(chatID, userID string, token uint64) {
	s.mu.Lock()
	i := s.typingIndex(chatID, userID)
	if i < 0 || s.typing[i].token != token {
		s.mu.Unlock()
		return
	}
	s.removeTypingLocked(chatID, userID)
	s.commit()
}
