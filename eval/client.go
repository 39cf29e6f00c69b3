package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/formulabar/internal/transport"
	"github.com/BaSui01/formulabar/types"
)

// Request eval 请求体
type Request struct {
	Context    string `json:"context"`
	Expression string `json:"expression"`
}

// Result 求值结果。服务端返回 result 时 Value 有值，否则 Error 描述失败原因。
type Result struct {
	Value string `json:"result,omitempty"`
	Error string `json:"error,omitempty"`
}

// Failed 报告服务端是否给出了求值错误
func (r Result) Failed() bool {
	return r.Value == "" && r.Error != ""
}

// Client eval 客户端
type Client struct {
	sender   transport.Sender
	endpoint string
	logger   *zap.Logger
}

// NewClient 创建 eval 客户端
func NewClient(sender transport.Sender, endpoint string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		sender:   sender,
		endpoint: endpoint,
		logger:   logger.With(zap.String("component", "eval_client")),
	}
}

// Evaluate 在 formulaContext 下对 expression 求值。
// 传输失败返回错误，调用方应保持之前的求值状态。
func (c *Client) Evaluate(ctx context.Context, formulaContext, expression string) (Result, error) {
	payload, err := json.Marshal(Request{Context: formulaContext, Expression: expression})
	if err != nil {
		return Result{}, err
	}

	body, err := c.sender.Send(ctx, c.endpoint, transport.OperationEval, string(payload))
	if err != nil {
		c.logger.Debug("eval request failed", zap.Error(err))
		return Result{}, err
	}

	var res Result
	if len(bytes.TrimSpace(body)) == 0 {
		return res, nil
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return Result{}, types.NewError(types.ErrMalformedMessage, fmt.Sprintf("eval response: %v", err)).
			WithOperation(string(transport.OperationEval))
	}
	// 服务端同时给出两者时以 result 为准
	if res.Value != "" {
		res.Error = ""
	}
	c.logger.Debug("evaluated", zap.Int("expression_len", len(expression)), zap.Bool("failed", res.Failed()))
	return res, nil
}
