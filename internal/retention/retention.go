package retention

import (
	"context"
	"log"
	"sync"
	"time"
)

type Config struct {
	Interval     time.Duration
	KeepMessages int
}

func DefaultConfig() Config {
	return Config{
		Interval:     10 * time.Minute,
		KeepMessages: 1000,
	}
}

// Pruner is the part of the store the service needs.
type Pruner interface {
	ChatRoomIDs(ctx context.Context) ([]string, error)
	PruneChatMessages(ctx context.Context, roomID string, keep int) (int64, error)
}

// Service periodically trims each room's chat history to the newest
// KeepMessages messages.
type Service struct {
	store  Pruner
	config Config
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// New fills a zero Interval from DefaultConfig. KeepMessages of zero turns
// retention off: Start does nothing and PruneNow deletes nothing.
func New(store Pruner, config Config) *Service {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Service{
		store:  store,
		config: config,
		stop:   make(chan struct{}),
	}
}

func (s *Service) Enabled() bool {
	return s.config.KeepMessages > 0
}

func (s *Service) Start() {
	if !s.Enabled() {
		log.Println("[Retention] disabled, chat history is kept forever")
		return
	}
	s.wg.Add(1)
	go s.run()
	log.Printf("[Retention] started (interval: %v, keep: %d messages per room)",
		s.config.Interval, s.config.KeepMessages)
}

func (s *Service) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
	log.Println("[Retention] stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.pruneAll()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.pruneAll()
		}
	}
}

func (s *Service) pruneAll() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := s.PruneNow(ctx); err != nil {
		log.Printf("[Retention] prune failed: %v", err)
	}
}

// PruneNow runs one pass over every room with chat history and returns the
// number of messages deleted.
func (s *Service) PruneNow(ctx context.Context) (int64, error) {
	if !s.Enabled() {
		return 0, nil
	}

	rooms, err := s.store.ChatRoomIDs(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, roomID := range rooms {
		n, err := s.store.PruneChatMessages(ctx, roomID, s.config.KeepMessages)
		if err != nil {
			log.Printf("[Retention] failed for room %s: %v", roomID, err)
			continue
		}
		total += n
	}

	if total > 0 {
		log.Printf("[Retention] pruned %d chat messages across %d rooms", total, len(rooms))
	}
	return total, nil
}
