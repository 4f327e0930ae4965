// Package imagegen builds the model-facing instruction for one
// transformation. The model itself is an external collaborator; only
// the prompt assembly lives here so both worker transports produce
// identical instructions.
package imagegen

import (
	"fmt"
	"strings"

	"stagehand/internal/domain"
)

// Style display names used in instructions. Unknown styles pass through
// verbatim.
var styleNames = map[string]string{
	"modern":       "モダン",
	"scandinavian": "北欧",
	"industrial":   "インダストリアル",
	"minimalist":   "ミニマル",
	"luxury":       "ラグジュアリー",
	"japanese":     "和モダン",
}

// BuildInstruction renders the instruction for a staging or removal
// request. Refinement prompts are appended as additional direction on
// top of the base instruction.
func BuildInstruction(mode domain.Mode, style, prompt string, refinement bool) string {
	var parts []string
	switch mode {
	case domain.ModeRemoval:
		parts = append(parts, "この部屋の写真から家具や小物をすべて取り除き、空室の状態にしてください。")
	default:
		name := strings.TrimSpace(style)
		if display, ok := styleNames[strings.ToLower(name)]; ok {
			name = display
		}
		if name != "" {
			parts = append(parts, fmt.Sprintf("この部屋の写真に%sスタイルの家具と内装をバーチャルステージングしてください。", name))
		} else {
			parts = append(parts, "この部屋の写真に家具と内装をバーチャルステージングしてください。")
		}
	}
	parts = append(parts, "部屋の構造、壁、床、窓の位置は変更しないでください。自然な照明と遠近感を保ってください。")
	if p := strings.TrimSpace(prompt); p != "" {
		if refinement {
			parts = append(parts, "修正指示: "+p)
		} else {
			parts = append(parts, "追加指示: "+p)
		}
	}
	return strings.Join(parts, " ")
}
