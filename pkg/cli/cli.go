package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/zurustar/markov-music/pkg/config"
)

// ErrNoInputFiles は入力MIDIファイルが1つも指定されていない場合に返される
var ErrNoInputFiles = errors.New("at least one MIDI file is required")

// Config はコマンドライン引数から解析された設定を保持する
type Config struct {
	InputFiles     []string // 入力MIDIファイル
	Order          int      // マルコフ連鎖の次数
	OutputFile     string   // 出力MIDIファイル
	Length         int      // 生成するイベント数の上限
	Seed           uint64   // 乱数シード
	Start          string   // 開始コンテキストの選び方（uniform, weighted）
	VelocityBucket int64    // ベロシティの量子化幅
	DurationBucket int64    // 音長の量子化幅（tick）
	TempoBucket    int64    // テンポの量子化幅（マイクロ秒）
	Resolution     int      // 正規化後の分解能（tick/四分音符）
	Channels       []int    // 対象チャンネル（空なら全チャンネル）
	ConfigPath     string   // YAML設定ファイル
	RenderWAV      string   // WAV出力先（空ならレンダリングしない）
	SoundFont      string   // WAVレンダリングに使うSoundFont
	LogLevel       string   // ログレベル（debug, info, warn, error）
	ShowHelp       bool     // ヘルプ表示フラグ

	explicit map[string]bool
}

// 短縮形フラグと正式名の対応
var aliases = map[string]string{
	"o":  "order",
	"of": "output-file",
	"n":  "length",
	"s":  "seed",
	"l":  "log-level",
	"h":  "help",
}

// ブール型フラグ（値を取らない）
var boolFlags = map[string]bool{
	"help": true,
}

// ParseArgs コマンドライン引数を解析してConfigを返す
func ParseArgs(args []string) (*Config, error) {
	// 引数を並べ替え：フラグを前に、位置引数を後ろに
	reorderedArgs := reorderArgs(args)

	fs := flag.NewFlagSet("markov-music", flag.ContinueOnError)

	cfg := &Config{explicit: map[string]bool{}}
	def := config.Default()

	var channels string
	fs.IntVar(&cfg.Order, "order", def.Order, "マルコフ連鎖の次数")
	fs.IntVar(&cfg.Order, "o", def.Order, "マルコフ連鎖の次数（短縮形）")
	fs.StringVar(&cfg.OutputFile, "output-file", def.OutputFile, "出力MIDIファイル")
	fs.StringVar(&cfg.OutputFile, "of", def.OutputFile, "出力MIDIファイル（短縮形）")
	fs.IntVar(&cfg.Length, "length", def.Length, "生成するイベント数の上限")
	fs.IntVar(&cfg.Length, "n", def.Length, "生成するイベント数の上限（短縮形）")
	fs.Uint64Var(&cfg.Seed, "seed", 0, "乱数シード")
	fs.Uint64Var(&cfg.Seed, "s", 0, "乱数シード（短縮形）")
	fs.StringVar(&cfg.Start, "start", def.Start, "開始コンテキストの選び方（uniform, weighted）")
	fs.Int64Var(&cfg.VelocityBucket, "velocity-bucket", def.Quantize.Velocity, "ベロシティの量子化幅")
	fs.Int64Var(&cfg.DurationBucket, "duration-bucket", def.Quantize.Duration, "音長の量子化幅（tick）")
	fs.Int64Var(&cfg.TempoBucket, "tempo-bucket", def.Quantize.Tempo, "テンポの量子化幅（マイクロ秒）")
	fs.IntVar(&cfg.Resolution, "resolution", def.Resolution, "正規化後の分解能")
	fs.StringVar(&channels, "channels", "", "対象チャンネル（カンマ区切り）")
	fs.StringVar(&cfg.ConfigPath, "config", "", "YAML設定ファイル")
	fs.StringVar(&cfg.RenderWAV, "render-wav", "", "WAV出力先")
	fs.StringVar(&cfg.SoundFont, "soundfont", "", "SoundFont（.sf2）ファイル")
	fs.StringVar(&cfg.LogLevel, "log-level", def.LogLevel, "ログレベル（debug, info, warn, error）")
	fs.StringVar(&cfg.LogLevel, "l", def.LogLevel, "ログレベル（短縮形）")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "ヘルプを表示")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "ヘルプを表示（短縮形）")

	if err := fs.Parse(reorderedArgs); err != nil {
		return nil, err
	}

	// 明示的に指定されたフラグを記録（設定ファイルより優先するため）
	fs.Visit(func(f *flag.Flag) {
		cfg.explicit[canonicalName(f.Name)] = true
	})

	if cfg.ShowHelp {
		return cfg, nil
	}

	// 環境変数からの設定（コマンドラインフラグが優先）
	if !cfg.IsSet("log-level") {
		if logLevelEnv := os.Getenv("LOG_LEVEL"); logLevelEnv != "" {
			cfg.LogLevel = strings.ToLower(logLevelEnv)
			cfg.explicit["log-level"] = true
		}
	}
	if !cfg.IsSet("seed") {
		if seedEnv := os.Getenv("MARKOV_SEED"); seedEnv != "" {
			seed, err := strconv.ParseUint(seedEnv, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid MARKOV_SEED: %q", seedEnv)
			}
			cfg.Seed = seed
			cfg.explicit["seed"] = true
		}
	}

	if channels != "" {
		parsed, err := parseChannels(channels)
		if err != nil {
			return nil, err
		}
		cfg.Channels = parsed
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// 位置引数（入力MIDIファイル）
	cfg.InputFiles = fs.Args()
	if len(cfg.InputFiles) == 0 {
		return nil, ErrNoInputFiles
	}

	return cfg, nil
}

// IsSet はフラグ（または対応する環境変数）が明示的に指定されたかを返す
func (c *Config) IsSet(name string) bool {
	return c.explicit[canonicalName(name)]
}

// SeedSet は乱数シードが指定されたかを返す
func (c *Config) SeedSet() bool {
	return c.IsSet("seed")
}

// Apply は明示的に指定された値で設定ファイルの内容を上書きする
func (c *Config) Apply(f *config.File) {
	if c.IsSet("order") {
		f.Order = c.Order
	}
	if c.IsSet("output-file") {
		f.OutputFile = c.OutputFile
	}
	if c.IsSet("length") {
		f.Length = c.Length
	}
	if c.IsSet("seed") {
		seed := c.Seed
		f.Seed = &seed
	}
	if c.IsSet("start") {
		f.Start = c.Start
	}
	if c.IsSet("velocity-bucket") {
		f.Quantize.Velocity = c.VelocityBucket
	}
	if c.IsSet("duration-bucket") {
		f.Quantize.Duration = c.DurationBucket
	}
	if c.IsSet("tempo-bucket") {
		f.Quantize.Tempo = c.TempoBucket
	}
	if c.IsSet("resolution") {
		f.Resolution = c.Resolution
	}
	if c.IsSet("channels") {
		f.Channels = c.Channels
	}
	if c.IsSet("render-wav") {
		f.RenderWAV = c.RenderWAV
	}
	if c.IsSet("soundfont") {
		f.SoundFont = c.SoundFont
	}
	if c.IsSet("log-level") {
		f.LogLevel = c.LogLevel
	}
}

func (c *Config) validate() error {
	// 次数の検証
	if c.Order < 1 {
		return fmt.Errorf("order must be >= 1, got %d", c.Order)
	}
	if c.Length < 1 {
		return fmt.Errorf("length must be >= 1, got %d", c.Length)
	}

	// ログレベルの検証
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	switch c.Start {
	case "uniform", "weighted":
	default:
		return fmt.Errorf("invalid start policy: %s (must be uniform or weighted)", c.Start)
	}
	return nil
}

// parseChannels "0,9" 形式のチャンネル指定を解析する
func parseChannels(s string) ([]int, error) {
	var channels []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ch, err := strconv.Atoi(part)
		if err != nil || ch < 0 || ch > 15 {
			return nil, fmt.Errorf("invalid channel: %q (must be 0-15)", part)
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

func canonicalName(name string) string {
	if full, ok := aliases[name]; ok {
		return full
	}
	return name
}

// reorderArgs 引数を並べ替えて、フラグを前に、位置引数を後ろに配置する
func reorderArgs(args []string) []string {
	var flags []string
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		// "--" 以降はすべて位置引数
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}

		// フラグかどうかを判定（-または--で始まる）
		if len(arg) > 1 && arg[0] == '-' {
			flags = append(flags, arg)

			// -o=2 のように値が含まれている場合は次の引数を見ない
			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") {
				continue
			}

			// 次の引数が値である可能性をチェック（-o 2 のような場合）
			if i+1 < len(args) && len(args[i+1]) > 0 && args[i+1][0] != '-' {
				// ブール型フラグでない場合は次の引数も追加
				if !boolFlags[canonicalName(name)] {
					i++
					flags = append(flags, args[i])
				}
			}
		} else {
			// 位置引数
			positional = append(positional, arg)
		}
	}

	// フラグを前に、位置引数を後ろに配置
	result := append(flags, "--")
	return append(result, positional...)
}

// PrintHelp ヘルプメッセージを表示
func PrintHelp() {
	fmt.Fprintf(os.Stdout, `markov-music - Markov chain MIDI generator

Usage:
  markov-music [options] MIDI_FILE [MIDI_FILE ...]

Arguments:
  MIDI_FILE     学習に使うMIDIファイル（1つ以上）

Options:
  -o, --order <n>             マルコフ連鎖の次数（デフォルト: 3）
  -of, --output-file <path>   出力MIDIファイル（デフォルト: output.mid）
  -n, --length <n>            生成するイベント数の上限（デフォルト: 500）
  -s, --seed <n>              乱数シード（デフォルト: 時刻から生成）
  --start <policy>            開始コンテキスト: uniform, weighted（デフォルト: uniform）
  --velocity-bucket <n>       ベロシティの量子化幅（デフォルト: 16）
  --duration-bucket <ticks>   音長の量子化幅（デフォルト: 60）
  --tempo-bucket <usec>       テンポの量子化幅（デフォルト: 10000）
  --resolution <ticks>        正規化後の分解能（デフォルト: 480）
  --channels <list>           対象チャンネル（例: 0,9）
  --config <path>             YAML設定ファイル
  --render-wav <path>         生成結果をWAVにレンダリング
  --soundfont <path>          レンダリングに使うSoundFont（.sf2）
  -l, --log-level <level>     ログレベル: debug, info, warn, error（デフォルト: info）
  -h, --help                  このヘルプを表示

Environment Variables:
  LOG_LEVEL=<level>           ログレベル
  MARKOV_SEED=<n>             乱数シード

Examples:
  markov-music song1.mid song2.mid
  markov-music -o 2 -of melody.mid bach/*.mid
  markov-music --seed 42 --start weighted etude.mid
  markov-music --render-wav out.wav --soundfont GeneralUser.sf2 song.mid
`)
}
