package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/zurustar/kagami/pkg/host"
	"github.com/zurustar/kagami/pkg/logger"
	"github.com/zurustar/kagami/pkg/movie"
	"github.com/zurustar/kagami/pkg/vm"
)

// PlayerConfig は設定ファイルから指定できるプレイヤー設定
// ゼロ値は組み込みのデフォルトを意味する
type PlayerConfig struct {
	MaxOps            int           `toml:"max_ops"`
	MaxDuration       time.Duration `toml:"max_duration"`
	BudgetPolicy      string        `toml:"budget_policy"`
	MaxStackDepth     int           `toml:"max_stack_depth"`
	MaxObjects        int           `toml:"max_objects"`
	GCMode            string        `toml:"gc_mode"`
	GCThreshold       int           `toml:"gc_threshold"`
	GCStepWork        int           `toml:"gc_step_work"`
	MaxScriptFailures *int          `toml:"max_script_failures"`
	SoundFont         string        `toml:"soundfont"`
	Codepage          string        `toml:"codepage"`
	AllowNetwork      bool          `toml:"allow_network"`
	Muted             bool          `toml:"muted"`
}

// Config はコマンドライン引数、環境変数、設定ファイルから解析された設定を保持する
type Config struct {
	MoviePath  string        // ムービーファイルまたはディレクトリ
	MovieFile  string        // MoviePathがファイルの場合のファイル名
	ConfigPath string        // TOML設定ファイル
	Timeout    time.Duration // 0ならウィンドウを閉じるまで実行
	LogLevel   string        // debug, info, warn, error
	LogJSON    bool
	Headless   bool
	ShowHelp   bool
	Frames     int    // ヘッドレス時のフレーム数（0で無制限）
	DumpHeap   string // 終了時にヒープグラフを書き出すファイル
	StatsView  string // ランタイム統計サーバーのアドレス
	Player     PlayerConfig
}

// ConfigEnv 設定ファイルのパスを保持する環境変数名
const ConfigEnv = "KAGAMI_CONFIG"

// ParseArgs コマンドライン引数を解析してConfigを返す
// 優先順位：コマンドラインフラグ、設定ファイル、環境変数
func ParseArgs(args []string) (*Config, error) {
	fs := flag.NewFlagSet("kagami", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	config := &Config{}
	var (
		timeoutSec   int
		flagsPlayer  PlayerConfig
		maxFailures  int
		stepDuration time.Duration
	)
	fs.IntVar(&timeoutSec, "timeout", 0, "exit after seconds")
	fs.IntVar(&timeoutSec, "t", 0, "exit after seconds (short)")
	fs.StringVar(&config.LogLevel, "log-level", "info", "log level")
	fs.StringVar(&config.LogLevel, "l", "info", "log level (short)")
	fs.BoolVar(&config.LogJSON, "log-json", false, "log as JSON")
	fs.BoolVar(&config.Headless, "headless", false, "run without a window")
	fs.BoolVar(&config.ShowHelp, "help", false, "show help")
	fs.BoolVar(&config.ShowHelp, "h", false, "show help (short)")
	fs.StringVar(&config.ConfigPath, "config", "", "config file")
	fs.StringVar(&config.ConfigPath, "c", "", "config file (short)")
	fs.IntVar(&config.Frames, "frames", 0, "headless frame limit")
	fs.StringVar(&config.DumpHeap, "dump-heap", "", "write the heap graph to file on exit")
	fs.StringVar(&config.StatsView, "statsview", "", "serve runtime stats on address")

	fs.IntVar(&flagsPlayer.MaxOps, "max-ops", 0, "script operations per entry")
	fs.DurationVar(&stepDuration, "max-duration", 0, "script time per entry")
	fs.StringVar(&flagsPlayer.BudgetPolicy, "budget-policy", "", "abort or throw")
	fs.IntVar(&flagsPlayer.MaxStackDepth, "max-stack-depth", 0, "call depth limit")
	fs.IntVar(&flagsPlayer.MaxObjects, "max-objects", 0, "live object limit")
	fs.StringVar(&flagsPlayer.GCMode, "gc", "", "full, incremental or manual")
	fs.IntVar(&flagsPlayer.GCThreshold, "gc-threshold", 0, "allocations between full collections")
	fs.IntVar(&flagsPlayer.GCStepWork, "gc-step", 0, "objects per incremental step")
	fs.IntVar(&maxFailures, "max-failures", 0, "uncaught errors before a script is halted")
	fs.StringVar(&flagsPlayer.SoundFont, "soundfont", "", "SoundFont for MIDI sounds")
	fs.StringVar(&flagsPlayer.Codepage, "codepage", "", "codepage of legacy text")
	fs.BoolVar(&flagsPlayer.AllowNetwork, "allow-network", false, "allow http loads")
	fs.BoolVar(&flagsPlayer.Muted, "mute", false, "mute audio")

	if err := fs.Parse(reorderArgs(fs, args)); err != nil {
		return nil, err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["headless"] {
		if headlessEnv := os.Getenv("HEADLESS"); headlessEnv != "" {
			config.Headless = headlessEnv == "1" || strings.ToLower(headlessEnv) == "true"
		}
	}
	if !set["timeout"] && !set["t"] {
		if timeoutEnv := os.Getenv("TIMEOUT"); timeoutEnv != "" {
			if t, err := strconv.Atoi(timeoutEnv); err == nil && t > 0 {
				timeoutSec = t
			}
		}
	}
	if !set["log-level"] && !set["l"] {
		if logLevelEnv := os.Getenv("LOG_LEVEL"); logLevelEnv != "" {
			config.LogLevel = strings.ToLower(logLevelEnv)
		}
	}
	if config.ConfigPath == "" {
		config.ConfigPath = os.Getenv(ConfigEnv)
	}

	if timeoutSec < 0 {
		return nil, fmt.Errorf("timeout must be non-negative, got %d", timeoutSec)
	}
	config.Timeout = time.Duration(timeoutSec) * time.Second
	if config.Frames < 0 {
		return nil, fmt.Errorf("frames must be non-negative, got %d", config.Frames)
	}
	if _, err := logger.ParseLevel(config.LogLevel); err != nil {
		return nil, fmt.Errorf("%w (must be debug, info, warn, or error)", err)
	}

	if config.ConfigPath != "" {
		if err := LoadConfigFile(config.ConfigPath, &config.Player); err != nil {
			return nil, err
		}
	}
	applyFlags(&config.Player, flagsPlayer, set)
	if set["max-duration"] {
		config.Player.MaxDuration = stepDuration
	}
	if set["max-failures"] {
		config.Player.MaxScriptFailures = &maxFailures
	}
	if err := config.Player.Validate(); err != nil {
		return nil, err
	}

	if fs.NArg() > 0 {
		path := fs.Arg(0)
		if strings.EqualFold(filepath.Ext(path), movie.Extension) {
			config.MoviePath = filepath.Dir(path)
			config.MovieFile = filepath.Base(path)
		} else {
			config.MoviePath = path
		}
	}
	return config, nil
}

// applyFlags コマンドラインで指定されたプレイヤーフラグを反映
func applyFlags(dst *PlayerConfig, src PlayerConfig, set map[string]bool) {
	if set["max-ops"] {
		dst.MaxOps = src.MaxOps
	}
	if set["budget-policy"] {
		dst.BudgetPolicy = src.BudgetPolicy
	}
	if set["max-stack-depth"] {
		dst.MaxStackDepth = src.MaxStackDepth
	}
	if set["max-objects"] {
		dst.MaxObjects = src.MaxObjects
	}
	if set["gc"] {
		dst.GCMode = src.GCMode
	}
	if set["gc-threshold"] {
		dst.GCThreshold = src.GCThreshold
	}
	if set["gc-step"] {
		dst.GCStepWork = src.GCStepWork
	}
	if set["soundfont"] {
		dst.SoundFont = src.SoundFont
	}
	if set["codepage"] {
		dst.Codepage = src.Codepage
	}
	if set["allow-network"] {
		dst.AllowNetwork = src.AllowNetwork
	}
	if set["mute"] {
		dst.Muted = src.Muted
	}
}

// LoadConfigFile TOML設定ファイルをpcに読み込む
// 未知のキーはエラーにする
func LoadConfigFile(path string, pc *PlayerConfig) error {
	md, err := toml.DecodeFile(path, pc)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// Validate 列挙値と数値の設定を検証
func (pc *PlayerConfig) Validate() error {
	var errs []error
	if pc.BudgetPolicy != "" {
		if _, ok := vm.ParseBudgetPolicy(pc.BudgetPolicy); !ok {
			errs = append(errs, fmt.Errorf("invalid budget policy: %s (must be abort or throw)", pc.BudgetPolicy))
		}
	}
	if _, err := host.ParseGCMode(pc.GCMode); err != nil {
		errs = append(errs, err)
	}
	if pc.Codepage != "" {
		if _, err := movie.Codepage(pc.Codepage); err != nil {
			errs = append(errs, err)
		}
	}
	for name, n := range map[string]int{
		"max_ops":         pc.MaxOps,
		"max_stack_depth": pc.MaxStackDepth,
		"max_objects":     pc.MaxObjects,
		"gc_threshold":    pc.GCThreshold,
		"gc_step_work":    pc.GCStepWork,
	} {
		if n < 0 {
			errs = append(errs, fmt.Errorf("%s must be non-negative, got %d", name, n))
		}
	}
	if pc.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("max_duration must be non-negative, got %v", pc.MaxDuration))
	}
	if pc.MaxScriptFailures != nil && *pc.MaxScriptFailures < 0 {
		errs = append(errs, fmt.Errorf("max_script_failures must be non-negative, got %d", *pc.MaxScriptFailures))
	}
	return errors.Join(errs...)
}

// reorderArgs 引数を並べ替えて、フラグを前に、位置引数を後ろに配置する
// （"kagami movie.kmv -t 5" を "kagami -t 5 movie.kmv" と同様に解析する）
func reorderArgs(fs *flag.FlagSet, args []string) []string {
	var flags []string
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if len(arg) == 0 || arg[0] != '-' {
			positional = append(positional, arg)
			continue
		}
		flags = append(flags, arg)
		if strings.Contains(arg, "=") || isBoolFlag(fs, arg) {
			continue
		}
		if i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return append(flags, positional...)
}

func isBoolFlag(fs *flag.FlagSet, arg string) bool {
	f := fs.Lookup(strings.TrimLeft(arg, "-"))
	if f == nil {
		return true
	}
	b, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && b.IsBoolFlag()
}

// PrintHelp ヘルプメッセージを表示
func PrintHelp(w io.Writer) {
	fmt.Fprint(w, `kagami - legacy multimedia movie player

Usage:
  kagami [options] [movie-path]

Arguments:
  movie-path    a movie file (.kmv) or a directory of movies
                with several movies a selection screen is shown

Options:
  -t, --timeout <seconds>     exit after the given time (default: none)
  -l, --log-level <level>     debug, info, warn, error (default: info)
  --log-json                  log as JSON
  --headless                  run without a window
  --frames <n>                stop a headless run after n frames
  -c, --config <file>         TOML config file for the player settings
  --max-ops <n>               script operations per entry point
  --max-duration <d>          script time per entry point, e.g. 200ms
  --budget-policy <p>         abort or throw when a budget runs out
  --max-stack-depth <n>       call depth limit
  --max-objects <n>           live object limit
  --gc <mode>                 full, incremental or manual
  --gc-threshold <n>          allocations between full collections
  --gc-step <n>               objects per incremental step
  --max-failures <n>          uncaught errors before a script is halted
  --soundfont <file>          SoundFont for MIDI sounds
  --codepage <name>           codepage of legacy text, e.g. shift_jis
  --allow-network             allow http and https loads
  --mute                      mute audio
  --dump-heap <file>          write the heap graph (DOT) on exit
  --statsview <addr>          serve runtime stats, e.g. localhost:18066
  -h, --help                  show this help

Environment Variables:
  HEADLESS=1                  run without a window
  TIMEOUT=<seconds>           exit after the given time
  LOG_LEVEL=<level>           log level
  KAGAMI_CONFIG=<file>        config file

Config file keys:
  max_ops, max_duration, budget_policy, max_stack_depth, max_objects,
  gc_mode, gc_threshold, gc_step_work, max_script_failures, soundfont,
  codepage, allow_network, muted
`)
}
