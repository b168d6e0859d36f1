package db

import (
	"fmt"

	"github.com/nextlevelbuilder/warelay/internal/store"
)

// NewStores opens the backend and returns the full store container.
func NewStores(dsn string) (*store.Stores, error) {
	h, err := Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	s := &store.Stores{
		Agents:        &agentStore{h},
		Conversations: &conversationStore{h},
		Modes:         &modeStore{h},
		Messages:      &messageStore{h},
		Sends:         &sendRecordStore{h},
		Escalations:   &escalationStore{h},
		Followups:     &followupStore{h},
		Listings:      &listingStore{h},
	}
	s.SetCloser(h.Close)
	return s, nil
}
