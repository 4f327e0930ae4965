// Package i18n holds the user-facing notification catalog. The product
// ships in Japanese first; English is the fallback for everything else.
package i18n

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// DefaultLocale is used when no hint at all is available.
const DefaultLocale = "ja"

var supported = []language.Tag{
	language.Japanese, // default
	language.English,
}

var matcher = language.NewMatcher(supported)

// Match normalizes an arbitrary locale hint ("ja-JP", "en-US,en;q=0.9",
// "EN") to one of the supported catalog locales.
func Match(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return "ja"
	}
	tags, _, err := language.ParseAcceptLanguage(locale)
	if err != nil || len(tags) == 0 {
		return "ja"
	}
	_, idx, _ := matcher.Match(tags...)
	if idx == 1 {
		return "en"
	}
	return "ja"
}

// Message keys.
const (
	MsgGenerationStarted   = "generation.started"
	MsgGenerationCompleted = "generation.completed"
	MsgGenerationFailed    = "generation.failed"
	MsgDispatchFailed      = "generation.dispatch_failed"
	MsgUploadFailed        = "generation.upload_failed"
	MsgBatchFinished       = "batch.finished"
	MsgQuotaExceeded       = "quota.exceeded"
	MsgInvalidImage        = "asset.invalid_image"
	MsgImageTooLarge       = "asset.too_large"
)

var catalog = map[string]map[string]string{
	"ja": {
		MsgGenerationStarted:   "画像生成を開始しました。処理が完了するまでお待ちください。",
		MsgGenerationCompleted: "画像生成が完了しました！",
		MsgGenerationFailed:    "画像生成に失敗しました。",
		MsgDispatchFailed:      "画像処理の開始に失敗しました。",
		MsgUploadFailed:        "画像のアップロードに失敗しました。もう一度お試しください。",
		MsgBatchFinished:       "%d枚中%d枚の画像生成が完了しました。",
		MsgQuotaExceeded:       "今月の生成上限（%d枚）に達しました。プランのアップグレードをご検討ください。",
		MsgInvalidImage:        "画像ファイルを選択してください。",
		MsgImageTooLarge:       "ファイルサイズは%dMB以下にしてください。",
	},
	"en": {
		MsgGenerationStarted:   "Image generation started. Please wait while it finishes.",
		MsgGenerationCompleted: "Image generation completed!",
		MsgGenerationFailed:    "Image generation failed.",
		MsgDispatchFailed:      "Could not start image processing.",
		MsgUploadFailed:        "Image upload failed. Please try again.",
		MsgBatchFinished:       "%[2]d of %[1]d images finished generating.",
		MsgQuotaExceeded:       "You have reached this month's limit of %d generations. Consider upgrading your plan.",
		MsgInvalidImage:        "Please select an image file.",
		MsgImageTooLarge:       "File size must be at most %dMB.",
	},
}

// T renders the message for a locale, falling back key-wise to English
// and finally to the key itself so a missing entry is still visible.
func T(locale, key string, args ...any) string {
	loc := Match(locale)
	msg, ok := catalog[loc][key]
	if !ok {
		msg, ok = catalog["en"][key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}
