package file

import (
	"path/filepath"
	"strings"
)

// ReplaceExt swaps the extension of path, appending when path has
// none. ext may be given with or without the leading dot.
func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}

	dir := filepath.Dir(path)
	filename := filepath.Base(path)

	lastDot := strings.LastIndex(filename, ".")

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	if lastDot <= 0 {
		return filepath.Join(dir, filename+ext)
	}
	return filepath.Join(dir, filename[:lastDot]+ext)
}

// SiblingWithLang inserts a language code before the extension:
// "show.s01e01.srt" + "zh" gives "show.s01e01.zh.srt". A path already
// carrying that code is returned unchanged.
func SiblingWithLang(path, lang string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	if strings.HasSuffix(base, "."+lang) {
		return path
	}
	return base + "." + lang + ext
}

// HasLangSuffix reports whether the file name carries the language
// code right before its extension.
func HasLangSuffix(path, lang string) bool {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	return strings.HasSuffix(base, "."+lang)
}
