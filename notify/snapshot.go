package notify

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

const (
	ExtSnapshot = "_alert.jpg"

	// FileTimeLayout defines the format of snapshot filenames.
	// See https://golang.org/src/time/format.go.
	FileTimeLayout = "20060102-150405-Z0700"
)

// Snapshot describes one stored alert frame.
type Snapshot struct {
	Name   string    `json:"name"`
	Stream string    `json:"stream"`
	Time   time.Time `json:"time"`
	Size   int64     `json:"size"`
}

// SnapshotStore keeps the annotated frames that triggered alerts, newest
// first, pruned to a bounded count.
type SnapshotStore struct {
	BasePath string
	MaxCount int

	l sync.Mutex
}

func NewSnapshotStore(path string, maxCount int) (*SnapshotStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	return &SnapshotStore{
		BasePath: path,
		MaxCount: maxCount,
	}, nil
}

// Save encodes the frame and stores it under a time and stream derived
// name, returning that name.
func (s *SnapshotStore) Save(stream string, t time.Time, m gocv.Mat) (string, error) {
	jpeg, err := gocv.IMEncode(".jpg", m)
	if err != nil {
		return "", err
	}
	name := t.Format(FileTimeLayout) + "_" + stream + ExtSnapshot
	if err := ioutil.WriteFile(filepath.Join(s.BasePath, name), jpeg, 0644); err != nil {
		return "", err
	}
	s.prune()
	return name, nil
}

// List returns the stored snapshots, newest first.
func (s *SnapshotStore) List() ([]Snapshot, error) {
	files, err := ioutil.ReadDir(s.BasePath)
	if err != nil {
		return nil, err
	}

	snaps := []Snapshot{}
	for _, file := range files {
		b := file.Name()
		if !strings.HasSuffix(b, ExtSnapshot) || len(b) < len(FileTimeLayout) {
			continue
		}
		t, err := time.Parse(FileTimeLayout, b[:len(FileTimeLayout)])
		if err != nil {
			continue
		}
		stream := strings.TrimSuffix(b[len(FileTimeLayout):], ExtSnapshot)
		stream = strings.TrimPrefix(stream, "_")
		snaps = append(snaps, Snapshot{
			Name:   b,
			Stream: stream,
			Time:   t,
			Size:   file.Size(),
		})
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Time.After(snaps[j].Time)
	})
	return snaps, nil
}

// Path resolves a snapshot name to its file path, rejecting names that
// would escape the store directory.
func (s *SnapshotStore) Path(name string) (string, error) {
	if name == "" || filepath.Base(name) != name || !strings.HasSuffix(name, ExtSnapshot) {
		return "", fmt.Errorf("invalid snapshot name %q", name)
	}
	return filepath.Join(s.BasePath, name), nil
}

// Delete removes a stored snapshot.
func (s *SnapshotStore) Delete(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// prune drops the oldest snapshots once the store exceeds MaxCount.
func (s *SnapshotStore) prune() {
	if s.MaxCount <= 0 {
		return
	}
	s.l.Lock()
	defer s.l.Unlock()

	snaps, err := s.List()
	if err != nil {
		log.Warnf("Failed to list snapshots for pruning: %v", err)
		return
	}
	for i := s.MaxCount; i < len(snaps); i++ {
		if err := s.Delete(snaps[i].Name); err != nil {
			log.Warnf("Failed to prune snapshot %v: %v", snaps[i].Name, err)
		}
	}
}
