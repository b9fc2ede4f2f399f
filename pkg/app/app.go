package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/zurustar/markov-music/pkg/cli"
	"github.com/zurustar/markov-music/pkg/config"
	"github.com/zurustar/markov-music/pkg/event"
	"github.com/zurustar/markov-music/pkg/fileutil"
	"github.com/zurustar/markov-music/pkg/logger"
	"github.com/zurustar/markov-music/pkg/markov"
	"github.com/zurustar/markov-music/pkg/midifile"
	"github.com/zurustar/markov-music/pkg/quantize"
	"github.com/zurustar/markov-music/pkg/render"
	"github.com/zurustar/markov-music/pkg/report"
)

// noMappingsMessage 学習結果が空のときに表示するメッセージ
const noMappingsMessage = "No mappings available to generate music"

// Application はアプリケーションのメインロジックを管理する
type Application struct {
	args   *cli.Config
	config *config.File
	log    *slog.Logger
	stderr io.Writer
	now    func() time.Time

	soundFont *SoundFontLocation
	summary   report.Summary
}

// New Applicationを作成
func New() *Application {
	return &Application{
		stderr: os.Stderr,
		now:    time.Now,
	}
}

// SetOutput ログとサマリーの出力先を変更する
func (app *Application) SetOutput(w io.Writer) {
	app.stderr = w
}

// Summary 直前の実行結果を返す
func (app *Application) Summary() report.Summary {
	return app.summary
}

// Run アプリケーションを実行
func (app *Application) Run(args []string) error {
	app.summary = report.Summary{}

	// 1. コマンドライン引数と設定ファイルの解析
	if err := app.parseArgs(args); err != nil {
		return err
	}

	if app.args.ShowHelp {
		cli.PrintHelp()
		return nil
	}

	if err := app.loadConfig(); err != nil {
		return err
	}

	// 2. ロガーの初期化
	if err := app.initLogger(); err != nil {
		return newRunError(KindInvalidConfig, "", err)
	}

	seed := app.seed()
	app.summary.Seed = seed
	app.summary.Order = app.config.Order
	app.log.Info("Application started", "files", len(app.args.InputFiles), "order", app.config.Order, "seed", seed)

	start, err := markov.ParseStartPolicy(app.config.Start)
	if err != nil {
		return newRunError(KindInvalidConfig, "", err)
	}

	// WAVレンダリングが要求されている場合は生成前にSoundFontを確定させる
	if app.config.RenderWAV != "" {
		app.soundFont = findSoundFont(app.config.SoundFont, app.args.InputFiles)
		if app.soundFont == nil {
			return newRunError(KindInvalidConfig, app.config.RenderWAV, render.ErrNoSoundFont)
		}
		app.log.Info("SoundFont selected", "path", app.soundFont.Path, "source", app.soundFont.Source)
	}

	// 3. 入力ファイルの読み込みと学習
	table, err := app.train()
	if err != nil {
		return err
	}

	// 4. 生成
	result, err := markov.Generate(table, markov.NewRand(seed), markov.Options{
		MaxLength: app.config.Length,
		Start:     start,
	})
	if err != nil {
		if errors.Is(err, markov.ErrNoMappings) {
			return &RunError{Kind: KindNoMappings, Message: noMappingsMessage, Err: err}
		}
		return newRunError(KindInvalidConfig, "", err)
	}
	app.summary.Generated = len(result.Events)
	app.summary.Reason = result.Reason.String()
	app.log.Info("Notes generated", "count", len(result.Events), "steps", result.Steps,
		"start", result.Start.String(), "reason", result.Reason.String())

	// 5. MIDIファイルの書き出し（一時ファイルに書いてからリネーム）
	if err := app.writeMIDI(result.Events); err != nil {
		return err
	}

	// 6. WAVレンダリング（指定されている場合）
	if app.config.RenderWAV != "" {
		if err := app.renderWAV(result.Events); err != nil {
			return err
		}
	}

	// 7. サマリーの表示
	fmt.Fprintln(app.stderr, report.Render(app.summary))

	app.log.Info("Application terminated normally")
	return nil
}

// parseArgs コマンドライン引数を解析
func (app *Application) parseArgs(args []string) error {
	cfg, err := cli.ParseArgs(args)
	if err != nil {
		return newRunError(KindInvalidConfig, "", err)
	}
	app.args = cfg
	return nil
}

// loadConfig 設定ファイルを読み込み、明示的なフラグで上書きする
func (app *Application) loadConfig() error {
	file := config.Default()
	if app.args.ConfigPath != "" {
		loaded, err := config.Load(app.args.ConfigPath)
		if err != nil {
			return newRunError(KindInvalidConfig, app.args.ConfigPath, err)
		}
		file = loaded
	}

	app.args.Apply(file)
	if err := file.Validate(); err != nil {
		return newRunError(KindInvalidConfig, app.args.ConfigPath, err)
	}
	app.config = file
	return nil
}

// initLogger ロガーを初期化
func (app *Application) initLogger() error {
	if err := logger.InitLogger(app.config.LogLevel, app.stderr); err != nil {
		return err
	}
	app.log = logger.GetLogger()
	return nil
}

// seed 乱数シードを決める（未指定なら現在時刻から生成し、再現用にログに出す）
func (app *Application) seed() uint64 {
	if app.config.Seed != nil {
		return *app.config.Seed
	}
	return uint64(app.now().UnixNano())
}

// train 入力ファイルを順に読み込み、遷移テーブルを構築する
// 読み込めないファイルは記録して除外し、処理を続行する
func (app *Application) train() (*markov.Table, error) {
	builder, err := markov.NewBuilder(app.config.Order)
	if err != nil {
		return nil, newRunError(KindInvalidConfig, "", err)
	}

	params := app.config.QuantizeParams()
	opts := midifile.DecodeOptions{
		Resolution: app.config.Resolution,
		Channels:   app.config.ChannelFilter(),
		Logger:     app.log,
	}

	unavailable := 0
	for _, path := range app.args.InputFiles {
		result := app.readInput(path, opts, params, builder)
		if result.Status == report.StatusUnavailable {
			unavailable++
		}
		app.summary.Files = append(app.summary.Files, result)
	}

	if unavailable == len(app.args.InputFiles) {
		last := app.summary.Files[len(app.summary.Files)-1]
		return nil, &RunError{Kind: KindInputUnavailable, Message: "no input file could be read", Err: last.Err}
	}

	table, err := builder.Build()
	app.summary.Contexts = table.Len()
	app.summary.Transitions = table.Transitions()
	if err != nil {
		return nil, &RunError{Kind: KindNoMappings, Message: noMappingsMessage, Err: err}
	}

	app.log.Info("Mappings made", "contexts", table.Len(), "transitions", table.Transitions())
	return table, nil
}

// readInput 1ファイルを読み込み、イベント列を学習器に追加する
func (app *Application) readInput(path string, opts midifile.DecodeOptions, params quantize.Params, builder *markov.Builder) report.FileResult {
	result := report.FileResult{Path: path}
	app.log.Info("Reading file", "path", path)

	piece, err := midifile.ReadFile(path, opts)
	if err != nil {
		kind := KindInputUnavailable
		result.Status = report.StatusUnavailable
		if errors.Is(err, midifile.ErrNoNotes) {
			kind = KindNoEventData
			result.Status = report.StatusNoNotes
		}
		runErr := newRunError(kind, path, err)
		app.log.Warn("Skipping input file", "error", runErr)
		result.Err = runErr
		return result
	}
	result.Name = piece.Name

	events, err := event.FromRaw(piece.Notes, params)
	if err != nil {
		runErr := newRunError(KindNoEventData, path, err)
		app.log.Warn("Skipping input file", "error", runErr)
		result.Status = report.StatusNoNotes
		result.Err = runErr
		return result
	}
	result.Notes = len(events)
	app.log.Info("Notes converted", "path", path, "name", piece.Name, "notes", len(events),
		"tracks", len(piece.Tracks), "resolution", piece.SourceResolution)

	result.Transitions = builder.Add(events)
	app.log.Debug("Transitions recorded", "path", path, "count", result.Transitions)
	return result
}

// writeMIDI 生成結果を出力ファイルに書き出す
func (app *Application) writeMIDI(events []event.Event) error {
	path := app.config.OutputFile
	err := midifile.WriteFile(path, events, midifile.EncodeOptions{Resolution: app.config.Resolution})
	if err != nil {
		return newRunError(KindOutputWriteFailure, path, err)
	}
	app.summary.Output = path
	app.log.Info("Output written", "path", path, "events", len(events))
	return nil
}

// renderWAV 生成結果をSoundFontで合成してWAVに書き出す
func (app *Application) renderWAV(events []event.Event) error {
	path := app.config.RenderWAV

	sf, err := render.LoadSoundFont(app.soundFont.Path)
	if err != nil {
		return newRunError(KindOutputWriteFailure, path, err)
	}

	var midiData bytes.Buffer
	if err := midifile.Encode(&midiData, events, midifile.EncodeOptions{Resolution: app.config.Resolution}); err != nil {
		return newRunError(KindOutputWriteFailure, path, err)
	}

	var stats render.Stats
	err = fileutil.WriteFileAtomic(path, func(f *os.File) error {
		var renderErr error
		stats, renderErr = render.RenderWAV(midiData.Bytes(), sf, f, render.Options{})
		return renderErr
	})
	if err != nil {
		return newRunError(KindOutputWriteFailure, path, err)
	}

	app.summary.WAV = path
	app.log.Info("WAV rendered", "path", path, "duration", stats.Duration, "frames", stats.Frames)
	return nil
}
