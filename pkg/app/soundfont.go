package app

import (
	"os"
	"path/filepath"

	"github.com/zurustar/markov-music/pkg/fileutil"
)

// SoundFontLocation 見つかったSoundFontファイルの場所
type SoundFontLocation struct {
	Path   string
	Source string // どこで見つかったか（ログ用）
}

// DefaultSoundFontName 自動検索するSoundFontのファイル名
const DefaultSoundFontName = "GeneralUser-GS.sf2"

// findSoundFont 以下の優先順位でSoundFontを検索する
//  1. --soundfont で指定されたパス
//  2. 環境変数 SOUNDFONT
//  3. カレントディレクトリ
//  4. 入力MIDIファイルのディレクトリ
//
// ファイル名は大文字小文字を区別しない。見つからなければnilを返す。
func findSoundFont(explicit string, inputs []string) *SoundFontLocation {
	// 1. 明示的な指定（存在しなくても返し、読み込み時にエラーにする）
	if explicit != "" {
		return &SoundFontLocation{Path: explicit, Source: "flag"}
	}

	// 2. 環境変数
	if env := os.Getenv("SOUNDFONT"); env != "" {
		return &SoundFontLocation{Path: env, Source: "env"}
	}

	// 3. カレントディレクトリ
	if path, err := fileutil.FindFileCaseInsensitive(".", DefaultSoundFontName); err == nil {
		return &SoundFontLocation{Path: path, Source: "current directory"}
	}

	// 4. 入力ファイルのディレクトリ
	seen := map[string]bool{}
	for _, input := range inputs {
		dir := filepath.Dir(input)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if path, err := fileutil.FindFileCaseInsensitive(dir, DefaultSoundFontName); err == nil {
			return &SoundFontLocation{Path: path, Source: "input directory"}
		}
	}

	return nil
}
