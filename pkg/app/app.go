// Package app はコマンドライン、タイトル、プレイヤー、ウィンドウを結びつける
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	ebitenaudio "github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/zurustar/kagami/pkg/audio"
	"github.com/zurustar/kagami/pkg/cli"
	"github.com/zurustar/kagami/pkg/debug"
	"github.com/zurustar/kagami/pkg/host"
	"github.com/zurustar/kagami/pkg/loader"
	"github.com/zurustar/kagami/pkg/logger"
	"github.com/zurustar/kagami/pkg/movie"
	"github.com/zurustar/kagami/pkg/title"
	"github.com/zurustar/kagami/pkg/vm"
	"github.com/zurustar/kagami/pkg/window"
)

// HTTPTimeout allow_network有効時のネットワーク読み込みのタイムアウト
const HTTPTimeout = 30 * time.Second

// Application はコマンドラインからプレイヤーを実行する
type Application struct {
	config   *cli.Config
	log      *slog.Logger
	titleReg *title.Registry
	embedFS  fs.FS
	stdin    io.Reader
	stdout   io.Writer

	ctx      context.Context
	audioCtx *ebitenaudio.Context
	player   *host.Player
	stats    *debug.StatsServer
}

// New Applicationを作成
// embedFSは同梱のタイトルとSoundFontを保持する（nil可）
func New(embedFS fs.FS) *Application {
	return &Application{
		embedFS: embedFS,
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		ctx:     context.Background(),
	}
}

// Run コマンドライン引数でアプリケーションを実行
func (app *Application) Run(args []string) error {
	config, err := cli.ParseArgs(args)
	if err != nil {
		return fmt.Errorf("failed to parse args: %w", err)
	}
	app.config = config

	if config.ShowHelp {
		cli.PrintHelp(app.stdout)
		return nil
	}

	if err := logger.InitLoggerTo(app.stdout, config.LogLevel, config.LogJSON); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.log = logger.GetLogger()
	app.log.Info("application started")

	if config.StatsView != "" {
		app.stats = debug.StartStats(config.StatsView, app.log)
		defer app.stats.Stop()
	}

	ctx, stop := signal.NotifyContext(app.ctx, os.Interrupt)
	defer stop()
	app.ctx = ctx

	selected, needsSelection, err := app.loadTitles()
	if err != nil {
		return err
	}

	if config.Headless {
		if needsSelection {
			selected, err = window.SelectHeadless(app.titleReg.Available(), config.Timeout, app.stdin, app.stdout)
			if err != nil {
				return fmt.Errorf("failed to select title: %w", err)
			}
		}
		if err := app.runHeadless(selected); err != nil {
			return err
		}
		app.log.Info("application terminated normally")
		return nil
	}

	err = window.Run(window.Options{
		Titles:   app.titleReg.Available(),
		Selected: selected,
		Timeout:  config.Timeout,
		Open: func(t *title.Title) (window.Stage, error) {
			return app.openTitle(t)
		},
		Close: app.closeTitle,
	})
	if err != nil {
		return err
	}
	app.log.Info("application terminated normally")
	return nil
}

// loadTitles タイトルを読み込む
// 選択画面が必要な場合はnilを返す
func (app *Application) loadTitles() (*title.Title, bool, error) {
	app.titleReg = title.NewRegistry(app.embedFS)
	if app.config.MoviePath != "" {
		if err := app.titleReg.LoadExternal(app.config.MoviePath, app.config.MovieFile); err != nil {
			return nil, false, fmt.Errorf("failed to load title: %w", err)
		}
	}
	selected, needsSelection, err := app.titleReg.Select()
	if err != nil {
		return nil, false, fmt.Errorf("failed to select title: %w", err)
	}
	if needsSelection {
		app.log.Info("multiple titles available", "count", len(app.titleReg.Available()))
	}
	return selected, needsSelection, nil
}

// openTitle タイトルのエントリームービーを新しいプレイヤーに読み込む
func (app *Application) openTitle(t *title.Title) (*host.Player, error) {
	app.log.Info("title selected", "name", t.Name, "path", t.Path, "entryFile", t.EntryFile)
	mv, err := t.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load movie: %w", err)
	}
	opts, err := app.playerOptions(t)
	if err != nil {
		return nil, err
	}
	p := host.NewPlayer(opts...)
	if err := p.Load(mv); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to start movie: %w", err)
	}
	w, h := p.StageSize()
	app.log.Info("movie loaded",
		"name", mv.Name, "version", mv.Version, "frames", len(mv.Frames),
		"classes", len(mv.Classes), "width", w, "height", h, "frameRate", mv.FrameRate)
	app.player = p
	return p, nil
}

// closeTitle 実行中のプレイヤーを解放する
// 指定されている場合は先にヒープをダンプする
func (app *Application) closeTitle() error {
	p := app.player
	if p == nil {
		return nil
	}
	app.player = nil
	var err error
	if path := app.config.DumpHeap; path != "" && p.Machine() != nil {
		if err = debug.DumpHeap(path, p.Machine().Heap()); err == nil {
			app.log.Info("heap graph written", "path", path)
		}
	}
	p.Close()
	s := p.Stats()
	app.log.Info("title closed",
		"ticks", s.Ticks, "frame", s.Frame, "uncaught", s.Uncaught, "halted", s.Halted,
		"diagnostics", s.Diagnostics, "live", s.GC.Live, "gcCycles", s.GC.Cycles)
	return err
}

// playerOptions プレイヤー設定をホストのオプションに変換
func (app *Application) playerOptions(t *title.Title) ([]host.Option, error) {
	pc := app.config.Player
	log := app.log.With("title", t.Name)

	budget := vm.DefaultBudget
	if pc.MaxOps > 0 {
		budget.MaxOps = int64(pc.MaxOps)
	}
	if pc.MaxDuration > 0 {
		budget.MaxDuration = pc.MaxDuration
	}
	policy, ok := vm.ParseBudgetPolicy(pc.BudgetPolicy)
	if !ok {
		return nil, fmt.Errorf("unknown budget policy %q", pc.BudgetPolicy)
	}
	budget.Policy = policy
	vmOpts := []vm.Option{vm.WithBudget(budget), vm.WithMaxStackDepth(pc.MaxStackDepth)}
	if pc.MaxObjects > 0 {
		vmOpts = append(vmOpts, vm.WithMaxObjects(pc.MaxObjects))
	}

	mode, err := host.ParseGCMode(pc.GCMode)
	if err != nil {
		return nil, err
	}
	gcPolicy := host.DefaultGCPolicy
	gcPolicy.Mode = mode
	if pc.GCThreshold > 0 {
		gcPolicy.Threshold = pc.GCThreshold
	}
	if pc.GCStepWork > 0 {
		gcPolicy.StepWork = pc.GCStepWork
	}

	fetcher := loader.SchemeFetcher{File: loader.FileFetcher{FS: t.FS}}
	if pc.AllowNetwork {
		fetcher.HTTP = loader.HTTPFetcher{Client: &http.Client{Timeout: HTTPTimeout}}
	}

	opts := []host.Option{
		host.WithLogger(log),
		host.WithContext(app.ctx),
		host.WithMachineOptions(vmOpts...),
		host.WithGCPolicy(gcPolicy),
		host.WithFetcher(fetcher),
		host.WithMixer(app.newMixer(t, log)),
	}
	if pc.MaxScriptFailures != nil {
		opts = append(opts, host.WithMaxScriptFailures(*pc.MaxScriptFailures))
	}
	if pc.Codepage != "" {
		enc, err := movie.Codepage(pc.Codepage)
		if err != nil {
			return nil, err
		}
		opts = append(opts, host.WithCodepage(enc))
	}
	return opts, nil
}

// newMixer オーディオミキサーを作成
// ヘッドレスモードでは音を出さずにチャンネルの時間だけ進める
func (app *Application) newMixer(t *title.Title, log *slog.Logger) *audio.Mixer {
	opts := []audio.Option{audio.WithLogger(log), audio.WithMuted(app.config.Player.Muted)}
	if !app.config.Headless {
		if app.audioCtx == nil {
			app.audioCtx = ebitenaudio.NewContext(audio.SampleRate)
		}
		opts = append(opts, audio.WithContext(app.audioCtx))
	}
	if loc := findSoundFont(app.embedFS, t, app.config.Player.SoundFont); loc != nil {
		sf, err := audio.LoadSoundFont(loc.FileSystem, loc.Path)
		if err != nil {
			log.Warn("SoundFont unusable, MIDI is disabled", "path", loc.Path, "error", err)
		} else {
			log.Info("SoundFont loaded", "dir", loc.FileSystem.BasePath(), "file", loc.Path, "embedded", loc.IsEmbedded)
			opts = append(opts, audio.WithSoundFont(sf))
		}
	} else {
		log.Debug("no SoundFont found, MIDI is disabled")
	}
	return audio.NewMixer(opts...)
}

// runHeadless ウィンドウなしでタイトルを再生
// フレーム数が指定されている場合は仮想時計で最速実行し、
// それ以外はタイムアウトか割り込みまで実時間で実行する
func (app *Application) runHeadless(t *title.Title) error {
	p, err := app.openTitle(t)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.closeTitle(); err != nil {
			app.log.Error("failed to close title", "error", err)
		}
	}()

	ctx := app.ctx
	if app.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.config.Timeout)
		defer cancel()
	}

	interval := p.FrameInterval()
	if frames := app.config.Frames; frames > 0 {
		now := time.Now()
		for range frames {
			if ctx.Err() != nil {
				break
			}
			if err := p.Tick(now); err != nil {
				return err
			}
			now = now.Add(interval)
		}
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := p.Tick(time.Now()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				app.log.Info("timeout reached, terminating")
			}
			return nil
		case <-ticker.C:
		}
	}
}
