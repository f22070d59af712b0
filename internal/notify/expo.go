package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Message 封装一次推送的内容。
type Message struct {
	To    []string          `json:"to"`
	Sound string            `json:"sound,omitempty"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Dispatcher 定义推送输送接口。结果只到批次级别，不区分单个设备。
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// ExpoDispatcher 通过 Expo push relay 推送消息。
type ExpoDispatcher struct {
	pushURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewExpoDispatcher 构造 Expo 推送器。
func NewExpoDispatcher(pushURL string, timeout time.Duration, logger zerolog.Logger) *ExpoDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if pushURL == "" {
		pushURL = "https://exp.host/--/api/v2/push/send"
	}

	return &ExpoDispatcher{
		pushURL: strings.TrimRight(pushURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "notify_expo").Logger(),
	}
}

// Dispatch 调用 push relay 推送给整批设备。
func (d *ExpoDispatcher) Dispatch(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("no recipient tokens")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.pushURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send push request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push relay 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		Errors []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if len(result.Errors) > 0 {
			return fmt.Errorf("push relay 返回错误: %s", result.Errors[0].Message)
		}
	}

	d.logger.Info().
		Int("devices", len(msg.To)).
		Str("title", msg.Title).
		Msg("推送已发送 (Expo)")
	return nil
}

var _ Dispatcher = (*ExpoDispatcher)(nil)
