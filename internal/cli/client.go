package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go: клиент не зависит от сервера) ---

// TaskResponse — task из API.
type TaskResponse struct {
	ID          int64                     `json:"id"`
	Group       string                    `json:"group"`
	Type        string                    `json:"type"`
	State       string                    `json:"state"`
	Status      string                    `json:"status"`
	ExitCode    int                       `json:"exit_code"`
	ExitMessage string                    `json:"exit_message,omitempty"`
	Paused      bool                      `json:"paused"`
	Failed      bool                      `json:"failed"`
	ForceState  string                    `json:"force_state,omitempty"`
	Steps       int                       `json:"steps"`
	Inputs      map[string]any            `json:"inputs,omitempty"`
	Context     map[string]map[string]any `json:"context,omitempty"`
	NextRunAt   string                    `json:"next_run_at"`
	CreatedAt   string                    `json:"created_at"`
	ModifiedAt  string                    `json:"modified_at"`
	FinishedAt  string                    `json:"finished_at,omitempty"`
}

// SignalResponse — сигнал из API.
type SignalResponse struct {
	ID         string         `json:"id"`
	TaskID     int64          `json:"task_id"`
	Type       string         `json:"type"`
	Status     string         `json:"status"`
	Resource   string         `json:"resource,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  string         `json:"created_at"`
	ReceivedAt string         `json:"received_at,omitempty"`
	ConsumedAt string         `json:"consumed_at,omitempty"`
}

// CreateTaskRequest — создание task.
type CreateTaskRequest struct {
	Type   string         `json:"type"`
	Group  string         `json:"group,omitempty"`
	Inputs map[string]any `json:"inputs,omitempty"`
}

// ListTasksOpts — параметры фильтрации tasks.
type ListTasksOpts struct {
	Group  string
	Type   string
	Status string
	Limit  int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, которую вернул сервер.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для wip API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Tasks ---

// ListTasks возвращает tasks по фильтру.
func (c *Client) ListTasks(opts ListTasksOpts) ([]TaskResponse, error) {
	params := url.Values{}
	if opts.Group != "" {
		params.Set("group", opts.Group)
	}
	if opts.Type != "" {
		params.Set("type", opts.Type)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	var tasks []TaskResponse
	err := c.get("/api/v1/tasks", params, &tasks)
	return tasks, err
}

// CreateTask создаёт task.
func (c *Client) CreateTask(req CreateTaskRequest) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post("/api/v1/tasks", req, &task)
	return &task, err
}

// GetTask возвращает task по ID.
func (c *Client) GetTask(id int64) (*TaskResponse, error) {
	var task TaskResponse
	err := c.get(taskPath(id, ""), nil, &task)
	return &task, err
}

// ListSignals возвращает сигналы task.
func (c *Client) ListSignals(id int64) ([]SignalResponse, error) {
	var sigs []SignalResponse
	err := c.get(taskPath(id, "/signals"), nil, &sigs)
	return sigs, err
}

// PauseTask приостанавливает task.
func (c *Client) PauseTask(id int64) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post(taskPath(id, "/pause"), nil, &task)
	return &task, err
}

// ResumeTask снимает паузу.
func (c *Client) ResumeTask(id int64) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post(taskPath(id, "/resume"), nil, &task)
	return &task, err
}

// ForceTask задаёт принудительный переход в state.
func (c *Client) ForceTask(id int64, state string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post(taskPath(id, "/force"), map[string]string{"state": state}, &task)
	return &task, err
}

// --- Signals ---

// PostSignal отправляет сигнал по id callback.
func (c *Client) PostSignal(id string, payload map[string]any) (*SignalResponse, error) {
	var sig SignalResponse
	err := c.post("/api/v1/signals/"+url.PathEscape(id), payload, &sig)
	return &sig, err
}

// ListTypes возвращает зарегистрированные типы tasks.
func (c *Client) ListTypes() ([]string, error) {
	var types []string
	err := c.get("/api/v1/types", nil, &types)
	return types, err
}

// --- HTTP helpers ---

func taskPath(id int64, suffix string) string {
	return "/api/v1/tasks/" + strconv.FormatInt(id, 10) + suffix
}

func (c *Client) get(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

// doData выполняет запрос и разбирает поле data (общее для data- и list-ответов).
func (c *Client) doData(method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var er errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
			apiErr.Code, apiErr.Message = er.Error.Code, er.Error.Message
		}
		return apiErr
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(dr.Data, result)
}
