package aigateway

import (
	"context"
	"fmt"
)

const titlePrefixRunes = 50

// Echo is the deterministic provider used in development and tests. Its
// output depends only on the content.
type Echo struct{}

func NewEcho() *Echo {
	return &Echo{}
}

func (e *Echo) Name() string { return "echo" }

func (e *Echo) Process(ctx context.Context, content string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Provider: e.Name(), Err: err}
	}

	res := &Result{
		Title:       fmt.Sprintf("AI分析结果: %s...", truncate(content, titlePrefixRunes)),
		Description: fmt.Sprintf("基于任务内容\"%s\"的详细分析描述", content),
		Result:      fmt.Sprintf("AI处理完成，任务内容: %s。分析结果包括风险评估、建议措施等详细信息。", content),
	}

	raw, err := res.Payload()
	if err != nil {
		return nil, &Error{Provider: e.Name(), Err: err}
	}
	res.Raw = raw
	return res, nil
}

// truncate cuts s to at most n characters, not bytes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
