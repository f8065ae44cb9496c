// Package window shows the title selection screen and plays a movie in an
// Ebitengine window.
package window

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/zurustar/kagami/pkg/host"
	"github.com/zurustar/kagami/pkg/logger"
	"github.com/zurustar/kagami/pkg/title"
	"golang.org/x/image/font/basicfont"
)

var (
	// 背景色 #0087C8
	backgroundColor   = color.RGBA{0x00, 0x87, 0xC8, 0xFF}
	stageColor        = color.White
	textColor         = color.White
	// 選択中のテキスト色（黄色）
	selectedTextColor = color.RGBA{0xFF, 0xFF, 0x00, 0xFF}
	defaultFace       = text.NewGoXFace(basicfont.Face7x13)
)

// 選択画面のサイズ
const (
	SelectionWidth  = 1024
	SelectionHeight = 768
)

// ErrCancelled is returned by SelectHeadless when the user quits.
var ErrCancelled = errors.New("user cancelled")

// Mode はウィンドウの表示モードを表す
type Mode int

const (
	ModeSelection Mode = iota // タイトル一覧
	ModePlayer                // ムービー再生中
)

// Stage is a loaded movie the window drives. *host.Player implements it.
type Stage interface {
	Tick(now time.Time) error
	FrameInterval() time.Duration
	StageSize() (w, h int)
	DisplayList() []host.DrawItem
	MouseMove(x, y float64)
	MouseDown(x, y float64)
	MouseUp(x, y float64)
	KeyDown(code, ascii int)
	KeyUp(code, ascii int)
}

// Game はEbitengineのゲームインターフェースを実装する
type Game struct {
	mode          Mode
	titles        []title.Title
	selectedIndex int
	selectedTitle *title.Title
	timeout       time.Duration
	startTime     time.Time
	clock         func() time.Time

	stage    Stage
	nextTick time.Time

	// onTitleSelected opens the chosen title.
	onTitleSelected func(*title.Title) (Stage, error)
	// onTitleExit releases the running title.
	onTitleExit     func() error
	transitionError error

	// hasTitleSelection makes ESC return to the list instead of quitting.
	hasTitleSelection bool

	lastMouseX, lastMouseY int
	mouseKnown             bool

	images  map[image.Image]*ebiten.Image
	drawn   map[image.Image]bool
	overlay overlay
}

// NewGame Gameを作成
func NewGame(titles []title.Title, timeout time.Duration) *Game {
	return &Game{
		mode:      ModeSelection,
		titles:    titles,
		timeout:   timeout,
		clock:     time.Now,
		startTime: time.Now(),
		images:    make(map[image.Image]*ebiten.Image),
		drawn:     make(map[image.Image]bool),
	}
}

// SetOnTitleSelected sets the callback that opens a chosen title.
func (g *Game) SetOnTitleSelected(fn func(*title.Title) (Stage, error)) {
	g.onTitleSelected = fn
}

// SetOnTitleExit sets the callback run when a title is left.
func (g *Game) SetOnTitleExit(fn func() error) {
	g.onTitleExit = fn
}

// SetHasTitleSelection controls whether ESC in a movie returns to the list.
func (g *Game) SetHasTitleSelection(has bool) {
	g.hasTitleSelection = has
}

// Mode returns the current mode.
func (g *Game) Mode() Mode { return g.mode }

// GetSelectedTitle returns the last chosen title.
func (g *Game) GetSelectedTitle() *title.Title { return g.selectedTitle }

// GetTransitionError returns the error that stopped opening a title.
func (g *Game) GetTransitionError() error { return g.transitionError }

// Play switches to player mode with s.
func (g *Game) Play(s Stage) {
	g.stage = s
	g.mode = ModePlayer
	g.startTime = g.clock()
	g.nextTick = time.Time{}
	g.mouseKnown = false
}

// Update 毎ティック呼ばれる更新処理
func (g *Game) Update() error {
	if g.timeout > 0 && g.clock().Sub(g.startTime) >= g.timeout {
		return ebiten.Termination
	}
	switch g.mode {
	case ModeSelection:
		return g.updateSelection()
	case ModePlayer:
		return g.updatePlayer()
	}
	return nil
}

func (g *Game) updateSelection() error {
	if len(g.titles) == 0 {
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyUp) && g.selectedIndex > 0 {
		g.selectedIndex--
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyDown) && g.selectedIndex < len(g.titles)-1 {
		g.selectedIndex++
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		return g.choose(g.selectedIndex)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	return nil
}

// choose opens titles[i]. Without a callback the window closes with the
// title selected.
func (g *Game) choose(i int) error {
	g.selectedTitle = &g.titles[i]
	if g.onTitleSelected == nil {
		return ebiten.Termination
	}
	s, err := g.onTitleSelected(g.selectedTitle)
	if err != nil {
		g.transitionError = err
		return ebiten.Termination
	}
	g.Play(s)
	return nil
}

func (g *Game) updatePlayer() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		if g.hasTitleSelection {
			return g.returnToSelection()
		}
		g.exitTitle()
		return ebiten.Termination
	}
	if g.stage == nil {
		return nil
	}
	if inpututil.IsKeyJustPressed(OverlayToggleKey) {
		g.overlay.toggle()
	}
	g.processMouseEvents()
	g.processKeyboardEvents()
	return g.advance(g.clock())
}

// advance ticks the stage when a frame is due.
func (g *Game) advance(now time.Time) error {
	due, next := frameDue(now, g.nextTick, g.stage.FrameInterval())
	g.nextTick = next
	if !due {
		return nil
	}
	return g.stage.Tick(now)
}

// frameDue reports whether a frame scheduled at next is due at now and
// returns the following schedule. A schedule that fell more than a frame
// behind restarts from now.
func frameDue(now, next time.Time, interval time.Duration) (bool, time.Time) {
	if next.IsZero() {
		return true, now.Add(interval)
	}
	if now.Before(next) {
		return false, next
	}
	next = next.Add(interval)
	if !next.After(now) {
		next = now.Add(interval)
	}
	return true, next
}

func (g *Game) exitTitle() {
	if g.onTitleExit != nil {
		if err := g.onTitleExit(); err != nil {
			logger.GetLogger().Error("title exit failed", "error", err)
		}
	}
	g.stage = nil
	g.releaseImages()
}

func (g *Game) returnToSelection() error {
	g.exitTitle()
	g.mode = ModeSelection
	g.startTime = g.clock()
	return nil
}

func (g *Game) processMouseEvents() {
	w, h := g.stage.StageSize()
	cx, cy := ebiten.CursorPosition()
	x, y := clampToStage(cx, cy, w, h)
	if !g.mouseKnown || x != g.lastMouseX || y != g.lastMouseY {
		g.stage.MouseMove(float64(x), float64(y))
		g.lastMouseX, g.lastMouseY, g.mouseKnown = x, y, true
	}
	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		g.stage.MouseDown(float64(x), float64(y))
	}
	if inpututil.IsMouseButtonJustReleased(ebiten.MouseButtonLeft) {
		g.stage.MouseUp(float64(x), float64(y))
	}
}

// clampToStage keeps a cursor position inside a w by h stage.
func clampToStage(x, y, w, h int) (int, int) {
	return min(max(x, 0), max(w-1, 0)), min(max(y, 0), max(h-1, 0))
}

func (g *Game) processKeyboardEvents() {
	shift := ebiten.IsKeyPressed(ebiten.KeyShift)
	for _, k := range inpututil.AppendJustPressedKeys(nil) {
		if code, ascii, ok := keyEvent(k, shift); ok {
			g.stage.KeyDown(code, ascii)
		}
	}
	for _, k := range inpututil.AppendJustReleasedKeys(nil) {
		if code, ascii, ok := keyEvent(k, shift); ok {
			g.stage.KeyUp(code, ascii)
		}
	}
}

type keyBinding struct {
	code  int
	ascii int
}

var specialKeys = map[ebiten.Key]keyBinding{
	ebiten.KeyBackspace:    {8, 8},
	ebiten.KeyTab:          {9, 9},
	ebiten.KeyEnter:        {13, 13},
	ebiten.KeyNumpadEnter:  {13, 13},
	ebiten.KeyShiftLeft:    {16, 0},
	ebiten.KeyShiftRight:   {16, 0},
	ebiten.KeyControlLeft:  {17, 0},
	ebiten.KeyControlRight: {17, 0},
	ebiten.KeyAltLeft:      {18, 0},
	ebiten.KeyAltRight:     {18, 0},
	ebiten.KeyCapsLock:     {20, 0},
	ebiten.KeySpace:        {32, 32},
	ebiten.KeyPageUp:       {33, 0},
	ebiten.KeyPageDown:     {34, 0},
	ebiten.KeyEnd:          {35, 0},
	ebiten.KeyHome:         {36, 0},
	ebiten.KeyArrowLeft:    {37, 0},
	ebiten.KeyArrowUp:      {38, 0},
	ebiten.KeyArrowRight:   {39, 0},
	ebiten.KeyArrowDown:    {40, 0},
	ebiten.KeyInsert:       {45, 0},
	ebiten.KeyDelete:       {46, 127},
}

// keyEvent maps an Ebitengine key to the movie's key code and character
// code. Escape is kept by the window.
func keyEvent(k ebiten.Key, shift bool) (code, ascii int, ok bool) {
	if b, ok := specialKeys[k]; ok {
		return b.code, b.ascii, true
	}
	name := k.String()
	switch {
	case len(name) == 1 && name[0] >= 'A' && name[0] <= 'Z':
		code = int(name[0])
		ascii = code
		if !shift {
			ascii += 'a' - 'A'
		}
		return code, ascii, true
	case strings.HasPrefix(name, "Digit") && len(name) == 6:
		code = int(name[5])
		return code, code, true
	case strings.HasPrefix(name, "F"):
		if n, err := strconv.Atoi(name[1:]); err == nil && n >= 1 && n <= 12 {
			return 111 + n, 0, true
		}
	}
	return 0, 0, false
}

// Draw 毎フレーム呼ばれる描画処理
func (g *Game) Draw(screen *ebiten.Image) {
	switch g.mode {
	case ModeSelection:
		screen.Fill(backgroundColor)
		g.drawSelection(screen)
	case ModePlayer:
		screen.Fill(stageColor)
		g.drawStage(screen)
	}
}

func (g *Game) drawSelection(screen *ebiten.Image) {
	titleOp := &text.DrawOptions{}
	titleOp.GeoM.Translate(50, 50)
	titleOp.ColorScale.ScaleWithColor(textColor)
	text.Draw(screen, "Select a movie", defaultFace, titleOp)

	for i, t := range g.titles {
		prefix := "  "
		c := color.Color(textColor)
		if i == g.selectedIndex {
			prefix = "> "
			c = selectedTextColor
		}
		op := &text.DrawOptions{}
		op.GeoM.Translate(70, 120+float64(i*40))
		op.ColorScale.ScaleWithColor(c)
		text.Draw(screen, prefix+describe(&t), defaultFace, op)
	}

	helpOp := &text.DrawOptions{}
	helpOp.GeoM.Translate(50, 650)
	helpOp.ColorScale.ScaleWithColor(textColor)
	text.Draw(screen, "Use UP/DOWN to select, ENTER to confirm, ESC to exit", defaultFace, helpOp)
}

// describe is the list line of t.
func describe(t *title.Title) string {
	s := t.DisplayName()
	if md := t.Metadata; md != nil {
		s += fmt.Sprintf("  (%dx%d, %d frames at %g fps)", md.Width, md.Height, md.Frames, md.FrameRate)
	}
	return s
}

func (g *Game) drawStage(screen *ebiten.Image) {
	if g.stage == nil {
		return
	}
	clear(g.drawn)
	items := g.stage.DisplayList()
	for _, item := range items {
		img := g.image(item.Image)
		g.drawn[item.Image] = true
		screen.DrawImage(img, drawOptions(item, img.Bounds().Dx(), img.Bounds().Dy()))
	}
	for src, img := range g.images {
		if !g.drawn[src] {
			img.Deallocate()
			delete(g.images, src)
		}
	}
	g.overlay.draw(screen, items, g.stage)
}

// image returns the GPU copy of src, uploading it on first use.
func (g *Game) image(src image.Image) *ebiten.Image {
	if img, ok := g.images[src]; ok {
		return img
	}
	img := ebiten.NewImageFromImage(src)
	g.images[src] = img
	return img
}

func (g *Game) releaseImages() {
	for src, img := range g.images {
		img.Deallocate()
		delete(g.images, src)
	}
}

// drawOptions places a bw by bh bitmap at the item's position and size.
func drawOptions(item host.DrawItem, bw, bh int) *ebiten.DrawImageOptions {
	op := &ebiten.DrawImageOptions{}
	if bw > 0 && bh > 0 && (item.Width != float64(bw) || item.Height != float64(bh)) {
		op.GeoM.Scale(item.Width/float64(bw), item.Height/float64(bh))
	}
	op.GeoM.Translate(item.X, item.Y)
	op.ColorScale.ScaleAlpha(float32(item.Alpha))
	op.Filter = ebiten.FilterLinear
	return op
}

// Layout 選択画面またはムービーのステージのサイズを返す
func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	if g.mode == ModePlayer && g.stage != nil {
		return g.stage.StageSize()
	}
	return SelectionWidth, SelectionHeight
}

// SelectHeadless ヘッドレスモードで標準入出力からタイトルを選択
func SelectHeadless(titles []title.Title, timeout time.Duration, reader io.Reader, writer io.Writer) (*title.Title, error) {
	if len(titles) == 0 {
		return nil, title.ErrNoTitles
	}
	if len(titles) == 1 {
		fmt.Fprintf(writer, "Auto-selecting title: %s\n", titles[0].DisplayName())
		return &titles[0], nil
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fmt.Fprintln(writer, "Available movies:")
	for i := range titles {
		fmt.Fprintf(writer, "  %d: %s\n", i+1, describe(&titles[i]))
	}
	fmt.Fprintln(writer)

	scanner := bufio.NewScanner(reader)
	resultCh := make(chan *title.Title, 1)
	errCh := make(chan error, 1)

	go func() {
		for {
			fmt.Fprintf(writer, "Select a title (1-%d) or 'q' to quit: ", len(titles))
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					errCh <- fmt.Errorf("failed to read input: %w", err)
				} else {
					errCh <- errors.New("input closed")
				}
				return
			}
			input := strings.TrimSpace(scanner.Text())
			if strings.EqualFold(input, "q") {
				errCh <- ErrCancelled
				return
			}
			num, err := strconv.Atoi(input)
			if err != nil {
				fmt.Fprintln(writer, "Invalid input. Please enter a number.")
				continue
			}
			if num < 1 || num > len(titles) {
				fmt.Fprintf(writer, "Invalid selection. Please enter a number between 1 and %d.\n", len(titles))
				continue
			}
			selected := &titles[num-1]
			fmt.Fprintf(writer, "Selected: %s\n", selected.DisplayName())
			resultCh <- selected
			return
		}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("title selection: %w", ctx.Err())
	case err := <-errCh:
		return nil, err
	case selected := <-resultCh:
		return selected, nil
	}
}

// Options configures Run.
type Options struct {
	Titles []title.Title
	// Selected skips the selection screen.
	Selected *title.Title
	Timeout  time.Duration
	Caption  string
	Open     func(*title.Title) (Stage, error)
	Close    func() error
}

// Run ウィンドウを開き、閉じられるまでブロックする
func Run(opts Options) error {
	game := NewGame(opts.Titles, opts.Timeout)
	game.SetOnTitleSelected(opts.Open)
	game.SetOnTitleExit(opts.Close)
	game.SetHasTitleSelection(opts.Selected == nil && len(opts.Titles) > 1)

	w, h := SelectionWidth, SelectionHeight
	if opts.Selected != nil {
		game.selectedTitle = opts.Selected
		s, err := opts.Open(opts.Selected)
		if err != nil {
			return err
		}
		game.Play(s)
		w, h = s.StageSize()
	}

	caption := opts.Caption
	if caption == "" {
		caption = "kagami"
	}
	ebiten.SetWindowSize(w, h)
	ebiten.SetWindowTitle(caption)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)

	err := ebiten.RunGame(game)
	if game.stage != nil {
		game.exitTitle()
	}
	if err != nil {
		return fmt.Errorf("failed to run game: %w", err)
	}
	return game.GetTransitionError()
}
