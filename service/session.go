package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/usamasarwar188/BG-Remover/model"
	"github.com/usamasarwar188/BG-Remover/utils"
	"go.uber.org/zap"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrNoForeground  = errors.New("no foreground image")
)

// Session 一个用户会话：背景配置、当前前景和合成器。
// 背景配置的每次变化以及每个新前景都会触发一次完整的重新渲染。
type Session struct {
	ID        string
	CreatedAt time.Time

	store         *BackgroundStore
	compositor    *Compositor
	events        *eventHub
	renderTimeout time.Duration
	unsubscribe   func()

	// opMu 串行化外部修改，保证返回的 RenderPass 对应本次修改
	opMu sync.Mutex

	mu         sync.Mutex
	fg         *model.Foreground
	cancel     context.CancelFunc
	pending    *RenderPass
	lastActive time.Time
	closed     bool
}

func NewSession(id string, previews *PreviewRegistry, renderTimeout time.Duration) *Session {
	now := time.Now()
	s := &Session{
		ID:            id,
		CreatedAt:     now,
		store:         NewBackgroundStore(previews),
		events:        newEventHub(),
		renderTimeout: renderTimeout,
		lastActive:    now,
	}
	s.compositor = NewCompositor(WithCommitHook(s.onFrame))
	s.unsubscribe = s.store.Subscribe(s.onBackgroundChange)
	return s
}

func (s *Session) Spec() model.BackgroundSpec {
	return s.store.Spec()
}

func (s *Session) PreviewURL() string {
	return s.store.PreviewURL()
}

func (s *Session) Surface() *Surface {
	return s.compositor.Surface()
}

func (s *Session) Foreground() *model.Foreground {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fg
}

// SetForeground 替换前景并用当前背景配置重新渲染
func (s *Session) SetForeground(fg *model.Foreground) (*RenderPass, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.fg = fg
	s.mu.Unlock()

	utils.Logger.Info("foreground set",
		zap.String("session_id", s.ID),
		zap.String("md5", fg.MD5),
		zap.Int("width", fg.Width()),
		zap.Int("height", fg.Height()))

	return s.rerender(s.store.Spec()), nil
}

// ApplyBackground 修改背景参数，返回由此触发的渲染
func (s *Session) ApplyBackground(patch model.BackgroundPatch) (*RenderPass, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.store.Apply(patch); err != nil {
		return nil, s.mapStoreErr(err)
	}
	return s.lastPass(), nil
}

// SetBackgroundAsset 设置背景图
func (s *Session) SetBackgroundAsset(asset *model.Asset) (*RenderPass, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if _, err := s.store.SetAsset(asset); err != nil {
		return nil, s.mapStoreErr(err)
	}
	return s.lastPass(), nil
}

// ClearBackgroundAsset 移除背景图
func (s *Session) ClearBackgroundAsset() (*RenderPass, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.store.ClearAsset(); err != nil {
		return nil, s.mapStoreErr(err)
	}
	return s.lastPass(), nil
}

// Subscribe 订阅实时事件，buf 为缓冲大小，消费过慢时事件会被丢弃
func (s *Session) Subscribe(buf int) (<-chan model.LiveEvent, func()) {
	return s.events.subscribe(buf)
}

// View 会话的对外状态
func (s *Session) View() model.SessionView {
	view := model.SessionView{
		ID:         s.ID,
		Background: model.NewSpecView(s.store.Spec(), s.store.PreviewURL()),
		FrameSeq:   s.Surface().Seq(),
		CreatedAt:  s.CreatedAt.Unix(),
	}
	if fg := s.Foreground(); fg != nil {
		view.Foreground = &model.ForegroundView{
			MD5:    fg.MD5,
			Width:  fg.Width(),
			Height: fg.Height(),
		}
	}
	return view
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Close 取消进行中的渲染，释放预览句柄和订阅
func (s *Session) Close() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.fg = nil
	s.mu.Unlock()

	s.unsubscribe()
	s.store.Close()
	s.events.close()

	utils.Logger.Info("session closed", zap.String("session_id", s.ID))
}

func (s *Session) onBackgroundChange(spec model.BackgroundSpec) {
	view := model.NewSpecView(spec, s.store.PreviewURL())
	s.events.publish(model.LiveEvent{Type: model.EventBackground, Background: &view})
	s.rerender(spec)
}

func (s *Session) onFrame(f Frame) {
	s.events.publish(model.LiveEvent{
		Type:   model.EventFrame,
		Seq:    f.Seq,
		Width:  f.Width,
		Height: f.Height,
	})
}

// rerender 取消上一次未完成的渲染并开始新的渲染
func (s *Session) rerender(spec model.BackgroundSpec) *RenderPass {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.closed || s.fg == nil {
		pass := s.compositor.Render(context.Background(), nil, spec)
		s.pending = pass
		return pass
	}

	ctx, cancel := s.renderContext()
	pass := s.compositor.Render(ctx, s.fg, spec)
	s.pending = pass
	s.cancel = cancel

	go func() {
		<-pass.Done()
		cancel()
	}()
	return pass
}

// renderContext renderTimeout <= 0 时不限时
func (s *Session) renderContext() (context.Context, context.CancelFunc) {
	if s.renderTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), s.renderTimeout)
}

func (s *Session) lastPass() *RenderPass {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Session) mapStoreErr(err error) error {
	if errors.Is(err, ErrStoreClosed) {
		return ErrSessionClosed
	}
	return err
}

// eventHub 将事件非阻塞地分发给所有订阅者
type eventHub struct {
	mu     sync.Mutex
	subs   map[chan model.LiveEvent]struct{}
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[chan model.LiveEvent]struct{})}
}

func (h *eventHub) subscribe(buf int) (<-chan model.LiveEvent, func()) {
	ch := make(chan model.LiveEvent, max(1, buf))

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *eventHub) publish(ev model.LiveEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			utils.Logger.Debug("live event dropped", zap.String("type", ev.Type))
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	clear(h.subs)
}
