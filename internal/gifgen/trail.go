package gifgen

import (
	"image"
	"sync"

	"go.uber.org/zap"

	"github.com/v0xg/voicefill/internal/dom"
	"github.com/v0xg/voicefill/internal/overlay"
)

// Camera captures the page and locates nodes on it.
type Camera interface {
	Screenshot() (image.Image, error)
	Box(n dom.Node) (image.Rectangle, error)
}

// Trail records one frame per filled field.
type Trail struct {
	cam    Camera
	limit  int
	logger *zap.Logger

	mu     sync.Mutex
	frames []image.Image
	marks  []overlay.Mark
}

// NewTrail creates a Trail keeping at most limit frames; 0 means no limit.
func NewTrail(cam Camera, limit int, logger *zap.Logger) *Trail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trail{cam: cam, limit: limit, logger: logger}
}

// Record captures the page with target marked. Its signature matches the
// manipulator's fill hook.
func (t *Trail) Record(id string, target dom.Node) {
	t.mu.Lock()
	full := t.limit > 0 && len(t.frames) >= t.limit
	t.mu.Unlock()
	if full {
		return
	}

	box, err := t.cam.Box(target)
	if err != nil {
		t.logger.Debug("trail: no box", zap.String("field", id), zap.Error(err))
	}
	shot, err := t.cam.Screenshot()
	if err != nil {
		t.logger.Warn("trail: screenshot failed", zap.String("field", id), zap.Error(err))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, shot)
	t.marks = append(t.marks, overlay.Mark{Field: id, Box: box})
}

// Len returns the number of recorded frames.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

// Fields returns the recorded field ids in order.
func (t *Trail) Fields() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, len(t.marks))
	for i, m := range t.marks {
		ids[i] = m.Field
	}
	return ids
}

// Save writes the annotated trail to path.
func (t *Trail) Save(path string, opts Options) (int64, error) {
	t.mu.Lock()
	frames := overlay.Annotate(t.frames, t.marks)
	t.mu.Unlock()
	return Generate(frames, path, opts)
}
