package service

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usamasarwar188/BG-Remover/model"
)

func newTestSession(t *testing.T) (*Session, *PreviewRegistry) {
	t.Helper()
	previews := NewPreviewRegistry("/p/")
	s := NewSession("test", previews, 5*time.Second)
	t.Cleanup(s.Close)
	return s, previews
}

func waitPass(t *testing.T, pass *RenderPass) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pass.Wait(ctx))
}

func TestSessionBackgroundChangeWithoutForeground(t *testing.T) {
	s, _ := newTestSession(t)

	kind := model.KindFlat
	pass, err := s.ApplyBackground(model.BackgroundPatch{Kind: &kind})
	require.NoError(t, err)
	waitPass(t, pass)

	assert.Zero(t, pass.Seq)
	assert.Zero(t, s.Surface().Seq())
	assert.Equal(t, model.KindFlat, s.Spec().Kind)
}

func TestSessionRendersOnEveryChange(t *testing.T) {
	s, _ := newTestSession(t)
	fg := subject(40, 30, image.Rect(0, 0, 10, 10))

	pass, err := s.SetForeground(fg)
	require.NoError(t, err)
	waitPass(t, pass)

	// 默认背景为未选择图片的 image 类型，只有前景
	frame, _ := s.Surface().Snapshot()
	assert.Equal(t, uint8(0), frame.NRGBAAt(30, 20).A)

	kind := model.KindFlat
	opacity := 128
	c := model.MustParseRGB("#ff0000")
	pass, err = s.ApplyBackground(model.BackgroundPatch{Kind: &kind, Opacity: &opacity, Color: &c})
	require.NoError(t, err)
	waitPass(t, pass)

	frame, seq := s.Surface().Snapshot()
	assert.Equal(t, pass.Seq, seq)
	requireNear(t, color.NRGBA{R: 0xff, A: 128}, frame.NRGBAAt(30, 20), 1)
	assert.Equal(t, green, frame.NRGBAAt(5, 5))

	view := s.View()
	assert.Equal(t, "test", view.ID)
	assert.Equal(t, seq, view.FrameSeq)
	require.NotNil(t, view.Foreground)
	assert.Equal(t, 40, view.Foreground.Width)
	assert.Equal(t, model.KindFlat, view.Background.Kind)
}

func TestSessionBackgroundAsset(t *testing.T) {
	s, previews := newTestSession(t)
	_, err := s.SetForeground(subject(20, 20, image.Rectangle{}))
	require.NoError(t, err)

	pass, err := s.SetBackgroundAsset(solidAsset(t, 4, 4, color.NRGBA{B: 0xff, A: 0xff}))
	require.NoError(t, err)
	waitPass(t, pass)

	frame, _ := s.Surface().Snapshot()
	requireNear(t, color.NRGBA{B: 0xff, A: 0xff}, frame.NRGBAAt(10, 10), 1)
	assert.NotEmpty(t, s.PreviewURL())
	assert.Equal(t, 1, previews.Len())

	pass, err = s.ClearBackgroundAsset()
	require.NoError(t, err)
	waitPass(t, pass)

	frame, _ = s.Surface().Snapshot()
	assert.Equal(t, uint8(0), frame.NRGBAAt(10, 10).A)
	assert.Zero(t, previews.Len())
}

func TestSessionLastWriteWins(t *testing.T) {
	s, _ := newTestSession(t)
	fg := subject(16, 16, image.Rectangle{})
	_, err := s.SetForeground(fg)
	require.NoError(t, err)

	// 先设置图片背景，紧接着切换为纯色，最终结果必须是纯色
	imagePass, err := s.SetBackgroundAsset(solidAsset(t, 64, 64, color.NRGBA{B: 0xff, A: 0xff}))
	require.NoError(t, err)

	kind := model.KindFlat
	c := model.MustParseRGB("#ff0000")
	flatPass, err := s.ApplyBackground(model.BackgroundPatch{Kind: &kind, Color: &c})
	require.NoError(t, err)
	waitPass(t, flatPass)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = imagePass.Wait(ctx)

	frame, seq := s.Surface().Snapshot()
	assert.Equal(t, flatPass.Seq, seq)
	assert.Equal(t, color.NRGBA{R: 0xff, A: 0xff}, frame.NRGBAAt(8, 8))
}

func TestSessionLiveEvents(t *testing.T) {
	s, _ := newTestSession(t)
	events, cancel := s.Subscribe(8)
	defer cancel()

	_, err := s.SetForeground(subject(8, 8, image.Rectangle{}))
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, model.EventFrame, ev.Type)
	assert.Equal(t, 8, ev.Width)

	require.NoError(t, func() error {
		_, err := s.ApplyBackground(model.BackgroundPatch{Opacity: ptr(3)})
		return err
	}())

	ev = <-events
	assert.Equal(t, model.EventBackground, ev.Type)
	require.NotNil(t, ev.Background)
	assert.Equal(t, 3, ev.Background.Opacity)

	ev = <-events
	assert.Equal(t, model.EventFrame, ev.Type)
}

func TestSessionClose(t *testing.T) {
	s, previews := newTestSession(t)
	events, _ := s.Subscribe(1)
	_, err := s.SetBackgroundAsset(solidAsset(t, 2, 2, color.NRGBA{A: 0xff}))
	require.NoError(t, err)

	s.Close()
	s.Close()

	assert.Zero(t, previews.Len())
	assert.Nil(t, s.Foreground())

	_, err = s.SetForeground(subject(4, 4, image.Rectangle{}))
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.ApplyBackground(model.BackgroundPatch{Opacity: ptr(1)})
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.ClearBackgroundAsset()
	assert.ErrorIs(t, err, ErrSessionClosed)

	// 事件通道被关闭
	for range events {
	}

	late, _ := s.Subscribe(1)
	_, open := <-late
	assert.False(t, open)
}

func TestEventHubDropsWhenFull(t *testing.T) {
	h := newEventHub()
	ch, cancel := h.subscribe(1)

	h.publish(model.LiveEvent{Type: model.EventFrame, Seq: 1})
	h.publish(model.LiveEvent{Type: model.EventFrame, Seq: 2})

	ev := <-ch
	assert.Equal(t, uint64(1), ev.Seq)
	select {
	case <-ch:
		t.Fatal("second event should have been dropped")
	default:
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func ptr[T any](v T) *T {
	return &v
}

func TestSessionWithoutRenderTimeout(t *testing.T) {
	s := NewSession("untimed", NewPreviewRegistry("/p/"), 0)
	t.Cleanup(s.Close)

	_, err := s.SetForeground(subject(20, 20, image.Rectangle{}))
	require.NoError(t, err)

	pass, err := s.SetBackgroundAsset(solidAsset(t, 8, 8, color.NRGBA{B: 0xff, A: 0xff}))
	require.NoError(t, err)
	waitPass(t, pass)

	frame, seq := s.Surface().Snapshot()
	assert.Equal(t, pass.Seq, seq)
	requireNear(t, color.NRGBA{B: 0xff, A: 0xff}, frame.NRGBAAt(10, 10), 1)
}
