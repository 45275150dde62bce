package sink

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"aquasense/internal/channel"
	"aquasense/internal/db"
	"aquasense/internal/reading"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) InsertReading(ctx context.Context, r db.SensorReading) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func Test_Append(t *testing.T) {
	cases := []struct {
		name         string
		inputReading reading.Reading
		setupStore   func() *mockStore
		expectedErr  error
	}{
		{
			name: "successful append",
			inputReading: reading.Reading{
				Channel:     channel.PH,
				DeviceID:    "dev1",
				Value:       6.8,
				RawMetadata: "{}",
				Timestamp:   1000,
			},
			setupStore: func() *mockStore {
				s := &mockStore{}
				s.On("InsertReading", mock.Anything, db.SensorReading{
					Channel:   "ph",
					DeviceID:  "dev1",
					Value:     6.8,
					Metadata:  "{}",
					Timestamp: 1000,
				}).Return(nil)
				return s
			},
			expectedErr: nil,
		},
		{
			name: "store failure surfaces as storage failure",
			inputReading: reading.Reading{
				Channel:  channel.Weight,
				DeviceID: "dev2",
				Value:    900,
			},
			setupStore: func() *mockStore {
				s := &mockStore{}
				s.On("InsertReading", mock.Anything, mock.Anything).Return(errors.New("connection refused"))
				return s
			},
			expectedErr: ErrStorageFailure,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			store := tt.setupStore()
			s := New(Config{Store: store})
			err := s.Append(context.Background(), tt.inputReading)
			assert.ErrorIs(t, err, tt.expectedErr)
			store.AssertExpectations(t)
		})
	}
}

type countingStore struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingStore) InsertReading(ctx context.Context, r db.SensorReading) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[r.Channel]++
	return nil
}

// 1,000 concurrent appends across all channels must produce exact per-channel
// counts with nothing lost or duplicated.
func Test_Append_Concurrent(t *testing.T) {
	store := &countingStore{counts: make(map[string]int)}
	s := New(Config{Store: store})

	channels := channel.All()
	const total = 1000

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		r := reading.Reading{
			Channel:   channels[i%len(channels)],
			DeviceID:  "dev",
			Value:     float64(i),
			Timestamp: int64(i),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Append(context.Background(), r))
		}()
	}
	wg.Wait()

	for _, ch := range channels {
		assert.Equal(t, total/len(channels), store.counts[ch.String()], "channel %s", ch)
	}
}
