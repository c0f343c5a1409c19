package client

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/clipzy/clipzy-server/internal/util"
)

// Frames are the JSON messages peers exchange over the data channel.

type FrameType string

const (
	FrameText      FrameType = "text"
	FrameFileStart FrameType = "file-start"
	FrameFileChunk FrameType = "file-chunk"
)

type TextFrame struct {
	Type      FrameType `json:"type"`
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp int64     `json:"timestamp"`
}

type FileStartFrame struct {
	Type        FrameType `json:"type"`
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"mimeType"`
	TotalChunks int       `json:"totalChunks"`
	Timestamp   int64     `json:"timestamp"`
}

type FileChunkFrame struct {
	Type       FrameType `json:"type"`
	ID         string    `json:"id"`
	ChunkIndex int       `json:"chunkIndex"`
	ChunkData  ByteArray `json:"chunkData"`
	IsLast     bool      `json:"isLast"`
}

// ByteArray encodes as a JSON array of numbers, which is what browser peers
// send, rather than base64.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, len(b)*4+2)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("chunk data: %w", err)
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("chunk data: byte %d out of range", n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

func NewTextFrame(content string) TextFrame {
	return TextFrame{
		Type:      FrameText,
		ID:        util.NewMessageID(),
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// DecodeFrame parses a data channel message into one of the frame types.
func DecodeFrame(data []byte) (any, error) {
	var head struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	var frame any
	switch head.Type {
	case FrameText:
		frame = &TextFrame{}
	case FrameFileStart:
		frame = &FileStartFrame{}
	case FrameFileChunk:
		frame = &FileChunkFrame{}
	default:
		return nil, fmt.Errorf("unknown frame type %q", head.Type)
	}
	if err := json.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("decode %s frame: %w", head.Type, err)
	}
	return frame, nil
}

// FileFrames splits r into a file-start frame followed by file-chunk frames
// of at most FileChunkSize bytes each, passing every encoded frame to emit.
func FileFrames(name, mimeType string, size int64, r io.Reader, emit func([]byte) error) (string, error) {
	id := util.NewMessageID()
	total := int((size + FileChunkSize - 1) / FileChunkSize)

	start, err := json.Marshal(FileStartFrame{
		Type:        FrameFileStart,
		ID:          id,
		Name:        name,
		Size:        size,
		MimeType:    mimeType,
		TotalChunks: total,
		Timestamp:   time.Now().UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	if err := emit(start); err != nil {
		return "", err
	}

	buf := make([]byte, FileChunkSize)
	for i := 0; i < total; i++ {
		n, err := io.ReadFull(r, buf)
		if err != nil && err != io.ErrUnexpectedEOF {
			return "", fmt.Errorf("read chunk %d: %w", i, err)
		}

		chunk, err := json.Marshal(FileChunkFrame{
			Type:       FrameFileChunk,
			ID:         id,
			ChunkIndex: i,
			ChunkData:  ByteArray(buf[:n]),
			IsLast:     i == total-1,
		})
		if err != nil {
			return "", err
		}
		if err := emit(chunk); err != nil {
			return "", err
		}
	}
	return id, nil
}

// FileAssembler collects the chunks of one incoming file.
type FileAssembler struct {
	Start  FileStartFrame
	chunks map[int][]byte
}

func NewFileAssembler(start FileStartFrame) *FileAssembler {
	return &FileAssembler{Start: start, chunks: make(map[int][]byte)}
}

// Add stores a chunk and reports whether every chunk has arrived.
func (a *FileAssembler) Add(chunk *FileChunkFrame) (bool, error) {
	if chunk.ID != a.Start.ID {
		return false, fmt.Errorf("chunk for %s added to %s", chunk.ID, a.Start.ID)
	}
	if chunk.ChunkIndex < 0 || chunk.ChunkIndex >= a.Start.TotalChunks {
		return false, fmt.Errorf("chunk index %d out of range", chunk.ChunkIndex)
	}
	a.chunks[chunk.ChunkIndex] = chunk.ChunkData
	return a.Complete(), nil
}

func (a *FileAssembler) Complete() bool {
	return len(a.chunks) == a.Start.TotalChunks
}

// Progress is the percentage of chunks received.
func (a *FileAssembler) Progress() int {
	if a.Start.TotalChunks == 0 {
		return 100
	}
	return len(a.chunks) * 100 / a.Start.TotalChunks
}

// Bytes joins the chunks in order. It fails if any chunk is missing.
func (a *FileAssembler) Bytes() ([]byte, error) {
	out := make([]byte, 0, a.Start.Size)
	for i := 0; i < a.Start.TotalChunks; i++ {
		chunk, ok := a.chunks[i]
		if !ok {
			return nil, fmt.Errorf("missing chunk %d", i)
		}
		out = append(out, chunk...)
	}
	return out, nil
}
