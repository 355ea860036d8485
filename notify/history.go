package notify

import (
	"time"

	"gorm.io/gorm"
)

// EventRecord is one alert persisted to the database.
type EventRecord struct {
	gorm.Model

	Stream     string
	Label      string
	Score      float32
	Snapshot   string
	DetectedAt time.Time
}

// History stores alerts in the database for later review.
type History struct {
	db *gorm.DB
}

func NewHistory(db *gorm.DB) (*History, error) {
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, err
	}
	return &History{db: db}, nil
}

func (h *History) Record(n *Notification) error {
	r := &EventRecord{
		Stream:     n.Stream,
		Label:      n.Label,
		Score:      n.Score,
		Snapshot:   n.Snapshot,
		DetectedAt: n.Time,
	}
	return h.db.Create(r).Error
}

// Recent returns up to limit alerts, newest first.
func (h *History) Recent(limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []EventRecord
	err := h.db.Order("detected_at desc").Limit(limit).Find(&records).Error
	return records, err
}

// Delete removes one alert record by id.
func (h *History) Delete(id uint) error {
	res := h.db.Delete(&EventRecord{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
