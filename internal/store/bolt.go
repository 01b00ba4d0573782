package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	conversationsBucket = []byte("conversations")
	messagesBucket      = []byte("messages")
)

// BoltStore keeps conversations in one bucket and each conversation's
// messages in a nested bucket under "messages", keyed by message id.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(conversationsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(messagesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) EnsureConversation(conversationID, sessionID string) (*Conversation, bool, error) {
	var conv Conversation
	var existed bool

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		if v := b.Get([]byte(conversationID)); v != nil {
			existed = true
			return json.Unmarshal(v, &conv)
		}

		now := time.Now().UTC()
		conv = Conversation{
			ConversationID: conversationID,
			SessionID:      sessionID,
			Status:         StatusBot,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		data, err := json.Marshal(conv)
		if err != nil {
			return err
		}
		return b.Put([]byte(conversationID), data)
	})
	if err != nil {
		return nil, false, fmt.Errorf("ensure conversation %s: %w", conversationID, err)
	}
	return &conv, existed, nil
}

func (s *BoltStore) GetConversation(conversationID string) (*Conversation, error) {
	var conv *Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(conversationsBucket).Get([]byte(conversationID))
		if v == nil {
			return nil
		}
		conv = &Conversation{}
		return json.Unmarshal(v, conv)
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *BoltStore) AddMessageIfNew(conversationID string, msg Message) (bool, error) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	var created bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		mb, err := tx.Bucket(messagesBucket).CreateBucketIfNotExists([]byte(conversationID))
		if err != nil {
			return err
		}
		if mb.Get([]byte(msg.MessageID)) != nil {
			return nil
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := mb.Put([]byte(msg.MessageID), data); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("add message %s/%s: %w", conversationID, msg.MessageID, err)
	}
	return created, nil
}

func (s *BoltStore) UpdateConversation(conversationID string, upd ConversationUpdate) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		v := b.Get([]byte(conversationID))
		if v == nil {
			return fmt.Errorf("conversation %s not found", conversationID)
		}
		var conv Conversation
		if err := json.Unmarshal(v, &conv); err != nil {
			return err
		}

		applyConversationUpdate(&conv, upd)
		conv.UpdatedAt = time.Now().UTC()
		conv.LockVersion++

		data, err := json.Marshal(conv)
		if err != nil {
			return err
		}
		return b.Put([]byte(conversationID), data)
	})
	if err != nil {
		return fmt.Errorf("update conversation %s: %w", conversationID, err)
	}
	return nil
}

func applyConversationUpdate(conv *Conversation, upd ConversationUpdate) {
	if upd.Status != nil {
		conv.Status = *upd.Status
	}
	if upd.HandoffActive != nil {
		conv.HandoffActive = *upd.HandoffActive
	}
	if upd.Assignee != nil {
		conv.Assignee = *upd.Assignee
	}
	if upd.AssigneeName != nil {
		conv.AssigneeName = *upd.AssigneeName
	}
	if upd.LastMessageText != nil {
		conv.LastMessageText = *upd.LastMessageText
	}
	if upd.LastInFrom != nil {
		conv.LastInFrom = *upd.LastInFrom
	}
	if upd.ProfileName != nil {
		conv.ProfileName = *upd.ProfileName
	}
	if upd.SessionParameters != nil {
		conv.SessionParameters = *upd.SessionParameters
	}
	if upd.PendingSince != nil {
		conv.PendingSince = upd.PendingSince
	}
	if upd.LastInboundAt != nil {
		conv.LastInboundAt = upd.LastInboundAt
	}
}

func (s *BoltStore) UpdateMessage(conversationID, messageID string, upd MessageUpdate) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		mb := tx.Bucket(messagesBucket).Bucket([]byte(conversationID))
		if mb == nil {
			return fmt.Errorf("conversation %s has no messages", conversationID)
		}
		v := mb.Get([]byte(messageID))
		if v == nil {
			return fmt.Errorf("message %s not found", messageID)
		}
		var msg Message
		if err := json.Unmarshal(v, &msg); err != nil {
			return err
		}

		if upd.Transcription != nil {
			msg.Transcription = *upd.Transcription
		}
		if upd.TranscriptionSource != nil {
			msg.TranscriptionSource = *upd.TranscriptionSource
		}
		if upd.OriginalMediaType != nil {
			msg.OriginalMediaType = *upd.OriginalMediaType
		}

		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return mb.Put([]byte(messageID), data)
	})
	if err != nil {
		return fmt.Errorf("update message %s/%s: %w", conversationID, messageID, err)
	}
	return nil
}

// GetMessage exists for tests and operational inspection; the turn flow
// never reads messages back.
func (s *BoltStore) GetMessage(conversationID, messageID string) (*Message, error) {
	var msg *Message
	err := s.db.View(func(tx *bolt.Tx) error {
		mb := tx.Bucket(messagesBucket).Bucket([]byte(conversationID))
		if mb == nil {
			return nil
		}
		v := mb.Get([]byte(messageID))
		if v == nil {
			return nil
		}
		msg = &Message{}
		return json.Unmarshal(v, msg)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
