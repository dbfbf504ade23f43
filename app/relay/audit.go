package relay

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// auditLog writes relay events as json lines to a rotating file. Metadata
// only, message content never touches disk.
type auditLog struct {
	mu sync.Mutex
	w  *lumberjack.Logger
}

type auditEntry struct {
	Time  time.Time `json:"time"`
	Event string    `json:"event"`
	User  int64     `json:"user,omitempty"`
	Msid  int       `json:"msid,omitempty"`
}

func newAuditLog(path string) *auditLog {
	return &auditLog{w: &lumberjack.Logger{Filename: path, MaxSize: 10, MaxBackups: 5, Compress: true}}
}

func (a *auditLog) record(event string, uid int64, msid int) {
	data, err := json.Marshal(auditEntry{Time: time.Now().UTC(), Event: event, User: uid, Msid: msid})
	if err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.w.Write(append(data, '\n')); err != nil {
		log.Printf("[WARN] audit write failed: %v", err)
	}
}

func (a *auditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.w.Close()
}
