package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	bucketSessions = []byte("sessions")
	bucketOutcomes = []byte("outcomes")
)

// SessionRecord 一次批处理会话的汇总记录
type SessionRecord struct {
	ID        string    `json:"id"`
	Op        string    `json:"op"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Success   int       `json:"success"`
	Skipped   int       `json:"skipped"`
	Cancelled int       `json:"cancelled"`
	Failed    int       `json:"failed"`
}

// OutcomeRecord 会话内单个文件的终态记录
type OutcomeRecord struct {
	Input    string    `json:"input"`
	Op       string    `json:"op"`
	Kind     string    `json:"kind"`
	Reason   string    `json:"reason,omitempty"`
	Outputs  []string  `json:"outputs,omitempty"`
	When     time.Time `json:"when"`
	ElapsedM int64     `json:"elapsed_ms"`
}

// Journal 批处理会话日志，落在bbolt单文件数据库里
type Journal struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// OpenJournal 打开（必要时创建）会话数据库
func OpenJournal(path string, logger *zap.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开会话数据库失败: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSessions); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketOutcomes)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("初始化会话数据库失败: %w", err)
	}

	return &Journal{db: db, logger: logger}, nil
}

// Close 关闭数据库
func (j *Journal) Close() error {
	return j.db.Close()
}

// BeginSession 记录一次新会话，返回会话ID
func (j *Journal) BeginSession(op Operation, total int) string {
	id := time.Now().Format("20060102T150405.000")
	rec := SessionRecord{
		ID:        id,
		Op:        op.String(),
		StartTime: time.Now(),
		Total:     total,
	}
	if err := j.putSession(rec); err != nil {
		j.logger.Warn("记录会话失败", zap.Error(err))
	}
	return id
}

// Record 追加一条文件终态记录
func (j *Journal) Record(sessionID string, o Outcome) {
	rec := OutcomeRecord{
		Input:    o.Input,
		Op:       o.Op.String(),
		Kind:     o.Kind.String(),
		Reason:   o.Reason,
		Outputs:  o.Outputs,
		When:     time.Now(),
		ElapsedM: o.Elapsed.Milliseconds(),
	}

	err := j.db.Update(func(tx *bbolt.Tx) error {
		parent := tx.Bucket(bucketOutcomes)
		b, err := parent.CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(fmt.Sprintf("%08d", seq)), data)
	})
	if err != nil {
		j.logger.Warn("记录文件终态失败",
			zap.String("session", sessionID), zap.Error(err))
	}
}

// EndSession 写入会话汇总
func (j *Journal) EndSession(sessionID string, outcomes []Outcome) {
	rec, err := j.getSession(sessionID)
	if err != nil {
		j.logger.Warn("读取会话失败", zap.String("session", sessionID), zap.Error(err))
		return
	}

	rec.EndTime = time.Now()
	rec.Processed = len(outcomes)
	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeSuccess:
			rec.Success++
		case OutcomeSkippedExisting:
			rec.Skipped++
		case OutcomeCancelled, OutcomeCancelledAll:
			rec.Cancelled++
		case OutcomeFailed:
			rec.Failed++
		}
	}

	if err := j.putSession(rec); err != nil {
		j.logger.Warn("写入会话汇总失败", zap.Error(err))
	}
}

// Sessions 返回最近的会话记录，按开始时间倒序
func (j *Journal) Sessions(limit int) ([]SessionRecord, error) {
	var sessions []SessionRecord
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(_, v []byte) error {
			var rec SessionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			sessions = append(sessions, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(sessions, func(a, b int) bool {
		return sessions[a].StartTime.After(sessions[b].StartTime)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// SessionOutcomes 返回某个会话的全部文件记录，按写入顺序
func (j *Journal) SessionOutcomes(sessionID string) ([]OutcomeRecord, error) {
	var records []OutcomeRecord
	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOutcomes).Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var rec OutcomeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (j *Journal) putSession(rec SessionRecord) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSessions).Put([]byte(rec.ID), data)
	})
}

func (j *Journal) getSession(id string) (SessionRecord, error) {
	var rec SessionRecord
	err := j.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("会话不存在: %s", id)
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}
