// Package store persists campaigns and dispatch tickets in BoltDB so a
// campaign can resume after a restart without re-sending anyone.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tokopoints/campaigner/internal/campaign"
)

var (
	bucketCampaigns = []byte("campaigns")
	bucketTickets   = []byte("tickets")
)

// Store is a BoltDB-backed campaign store.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCampaigns, bucketTickets} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveCampaign writes the campaign record.
func (s *Store) SaveCampaign(c *campaign.Campaign) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal campaign: %w", err)
		}
		return tx.Bucket(bucketCampaigns).Put([]byte(c.ID), data)
	})
}

// GetCampaign returns the campaign, or nil when not found.
func (s *Store) GetCampaign(id string) (*campaign.Campaign, error) {
	var c *campaign.Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCampaigns).Get([]byte(id))
		if data == nil {
			return nil
		}
		c = &campaign.Campaign{}
		return json.Unmarshal(data, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCampaigns returns all campaigns, newest first.
func (s *Store) ListCampaigns() ([]*campaign.Campaign, error) {
	var out []*campaign.Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCampaigns).ForEach(func(k, v []byte) error {
			var c campaign.Campaign
			if err := json.Unmarshal(v, &c); err != nil {
				return nil // skip invalid entries
			}
			out = append(out, &c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListByStatus returns campaigns in the given status, oldest first.
func (s *Store) ListByStatus(status campaign.Status) ([]*campaign.Campaign, error) {
	all, err := s.ListCampaigns()
	if err != nil {
		return nil, err
	}
	var out []*campaign.Campaign
	for _, c := range all {
		if c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SaveTickets replaces the ticket set for a campaign.
func (s *Store) SaveTickets(campaignID string, tickets []*campaign.DispatchTicket) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketTickets)
		if parent.Bucket([]byte(campaignID)) != nil {
			if err := parent.DeleteBucket([]byte(campaignID)); err != nil {
				return err
			}
		}
		b, err := parent.CreateBucket([]byte(campaignID))
		if err != nil {
			return err
		}
		for _, t := range tickets {
			if err := putTicket(b, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutTicket upserts a single ticket.
func (s *Store) PutTicket(campaignID string, t *campaign.DispatchTicket) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketTickets).CreateBucketIfNotExists([]byte(campaignID))
		if err != nil {
			return err
		}
		return putTicket(b, t)
	})
}

// Tickets returns the campaign's tickets in sequence order.
func (s *Store) Tickets(campaignID string) ([]*campaign.DispatchTicket, error) {
	var out []*campaign.DispatchTicket
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTickets).Bucket([]byte(campaignID))
		if b == nil {
			return nil
		}
		// Keys are zero-padded sequence numbers, so cursor order is
		// dispatch order.
		return b.ForEach(func(k, v []byte) error {
			var t campaign.DispatchTicket
			if err := json.Unmarshal(v, &t); err != nil {
				return nil
			}
			out = append(out, &t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteTickets retires the whole ticket set for a campaign.
func (s *Store) DeleteTickets(campaignID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketTickets)
		if parent.Bucket([]byte(campaignID)) == nil {
			return nil
		}
		return parent.DeleteBucket([]byte(campaignID))
	})
}

func putTicket(b *bolt.Bucket, t *campaign.DispatchTicket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}
	return b.Put(ticketKey(t.Seq), data)
}

func ticketKey(seq int) []byte {
	return []byte(fmt.Sprintf("%010d", seq))
}
