package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/minorway/dnsobserve/internal/dnswire"
)

// fileRecord is the JSON shape written per message, matching spec §6's
// field list exactly.
type fileRecord struct {
	Timestamp     int64           `json:"timestamp"`
	TransactionID uint16          `json:"transaction_id"`
	MessageType   string          `json:"message_type"`
	Protocol      string          `json:"protocol"`
	Questions     []fileQuestion  `json:"questions"`
	Answers       []fileAnswer    `json:"answers"`
}

type fileQuestion struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Class uint16 `json:"class"`
}

type fileAnswer struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Class uint16 `json:"class"`
	TTL   uint32 `json:"ttl"`
	Data  string `json:"data"`
}

// FileSink appends one JSON object per message to a file under outputDir,
// rotating to a freshly timestamped filename every rotationInterval
// seconds. The timestamped-filename scheme is spec-mandated (spec §6), so
// this sink rolls its own rotation rather than reaching for a
// size/age-based rotating-writer library (see DESIGN.md).
type FileSink struct {
	outputDir        string
	prefix           string
	suffix           string
	rotationInterval time.Duration

	mu         sync.Mutex
	file       *os.File
	openedAt   time.Time
}

// NewFileSink constructs a FileSink. The output directory must already
// exist; FileSink does not create it.
func NewFileSink(outputDir, prefix, suffix string, rotationIntervalSeconds int) (*FileSink, error) {
	s := &FileSink{
		outputDir:        outputDir,
		prefix:           prefix,
		suffix:           suffix,
		rotationInterval: time.Duration(rotationIntervalSeconds) * time.Second,
	}
	if err := s.rotateLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) rotateLocked() error {
	if s.file != nil {
		s.file.Close()
	}
	name := fmt.Sprintf("%s%d%s.log", s.prefix, time.Now().Unix(), s.suffix)
	path := filepath.Join(s.outputDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("sink: open %s: %w", path, err)
	}
	s.file = f
	s.openedAt = time.Now()
	return nil
}

func (s *FileSink) Output(msg *dnswire.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rotationInterval > 0 && time.Since(s.openedAt) >= s.rotationInterval {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}

	rec := fileRecord{
		Timestamp:     msg.TimestampUs,
		TransactionID: msg.TransactionID,
		MessageType:   msg.Kind.String(),
		Protocol:      msg.Transport.String(),
	}
	for _, q := range msg.Questions {
		rec.Questions = append(rec.Questions, fileQuestion{Name: q.Name, Type: q.RecordType.String(), Class: q.Class})
	}
	for _, a := range msg.Answers {
		rec.Answers = append(rec.Answers, fileAnswer{Name: a.Name, Type: a.RecordType.String(), Class: a.Class, TTL: a.TTL, Data: a.DataStr})
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sink: marshal record: %w", err)
	}
	data = append(data, '\n')
	_, err = s.file.Write(data)
	return err
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
