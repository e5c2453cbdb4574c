package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
	"github.com/Adam5421/SmartAIExam/internal/logger"
	"github.com/Adam5421/SmartAIExam/internal/question"

	"golang.org/x/text/encoding/simplifiedchinese"
)

const (
	SourceRemote   = "remote"
	SourceLocal    = "local"
	SourceFallback = "local_fallback"

	maxTextRunes   = 3000
	maxDraftsTotal = 50
	defaultModel   = "gpt-3.5-turbo"
)

type ServiceConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

type Service struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	log     *logger.Logger
}

type GenerateRequest struct {
	Text              string `json:"text"`
	Difficulty        int    `json:"difficulty"`
	SingleChoiceCount int    `json:"single_choice_count"`
	MultiChoiceCount  int    `json:"multi_choice_count"`
	JudgeCount        int    `json:"judge_count"`
	EssayCount        int    `json:"essay_count"`
}

// Draft is a suggested question. Drafts are never stored; callers submit them
// through the normal create path after editing.
type Draft struct {
	Content    string   `json:"content"`
	QType      string   `json:"q_type"`
	Options    []string `json:"options"`
	Answer     string   `json:"answer"`
	Analysis   string   `json:"analysis"`
	Difficulty int      `json:"difficulty"`
	Tags       []string `json:"tags"`
}

type Result struct {
	Drafts []Draft
	Source string
}

func NewService(cfg ServiceConfig, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Service{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   model,
		client:  client,
		log:     log.With("component", "assistant"),
	}
}

// Generate drafts questions from text. Without a configured endpoint, or when
// the endpoint fails, drafts come from the deterministic local generator.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (Result, error) {
	plan, err := normalizeRequest(&req)
	if err != nil {
		return Result{}, err
	}
	if s.apiKey == "" || s.baseURL == "" {
		return Result{Drafts: localDrafts(req.Text, plan, req.Difficulty), Source: SourceLocal}, nil
	}

	drafts, err := s.generateRemote(ctx, req, plan)
	if err != nil {
		s.log.Warn("ai generation failed, using local drafts", "model", s.model, "error", err)
		return Result{Drafts: localDrafts(req.Text, plan, req.Difficulty), Source: SourceFallback}, nil
	}
	return Result{Drafts: drafts, Source: SourceRemote}, nil
}

type typeCount struct {
	qType string
	n     int
}

func normalizeRequest(req *GenerateRequest) ([]typeCount, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return nil, fmt.Errorf("%w: text is required", apperr.ErrValidation)
	}
	if req.Difficulty == 0 {
		req.Difficulty = 1
	}
	if req.Difficulty < 1 || req.Difficulty > 5 {
		return nil, fmt.Errorf("%w: difficulty must be between 1 and 5", apperr.ErrValidation)
	}
	plan := []typeCount{
		{question.TypeSingle, req.SingleChoiceCount},
		{question.TypeMulti, req.MultiChoiceCount},
		{question.TypeJudge, req.JudgeCount},
		{question.TypeEssay, req.EssayCount},
	}
	total := 0
	for _, tc := range plan {
		if tc.n < 0 {
			return nil, fmt.Errorf("%w: %s count must not be negative", apperr.ErrValidation, tc.qType)
		}
		total += tc.n
	}
	if total == 0 {
		plan[0].n = 3
		total = 3
	}
	if total > maxDraftsTotal {
		return nil, fmt.Errorf("%w: at most %d questions per request", apperr.ErrValidation, maxDraftsTotal)
	}
	return plan, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (s *Service) generateRemote(ctx context.Context, req GenerateRequest, plan []typeCount) ([]Draft, error) {
	body, err := json.Marshal(chatRequest{
		Model:       s.model,
		Temperature: 0.7,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(req, plan)},
		},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("completion status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("empty completion")
	}
	return parseDrafts(out.Choices[0].Message.Content, req.Difficulty)
}

const systemPrompt = "You are an experienced exam author. Write questions strictly grounded in the supplied material. " +
	"Reply with a JSON array only, no markdown."

func userPrompt(req GenerateRequest, plan []typeCount) string {
	var parts []string
	total := 0
	for _, tc := range plan {
		if tc.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", tc.n, tc.qType))
			total += tc.n
		}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write %d questions from the material below.\n", total)
	fmt.Fprintf(&sb, "Difficulty: %d (1 easiest, 5 hardest).\n", req.Difficulty)
	fmt.Fprintf(&sb, "Types: %s.\n", strings.Join(parts, ", "))
	sb.WriteString(`Each element: {"content": "...", "q_type": "single|multi|judge|essay", "options": ["A. ...", "B. ..."] or null, ` +
		`"answer": "A" (multi "A,B", judge "true"/"false", essay a reference answer), "analysis": "...", "difficulty": 1, "tags": ["..."]}` + "\n")
	sb.WriteString("Material:\n")
	sb.WriteString(truncateRunes(req.Text, maxTextRunes))
	return sb.String()
}

type rawDraft struct {
	Content    string          `json:"content"`
	QType      string          `json:"q_type"`
	Options    []string        `json:"options"`
	Answer     json.RawMessage `json:"answer"`
	Analysis   string          `json:"analysis"`
	Difficulty int             `json:"difficulty"`
	Tags       []string        `json:"tags"`
}

// parseDrafts reads a completion body, tolerating markdown fences and list answers.
// Elements with empty content or an unknown type are dropped.
func parseDrafts(content string, difficulty int) ([]Draft, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raws []rawDraft
	if err := json.Unmarshal([]byte(content), &raws); err != nil {
		return nil, fmt.Errorf("decode drafts: %w", err)
	}
	out := make([]Draft, 0, len(raws))
	for _, r := range raws {
		qType := question.NormalizeType(r.QType)
		if strings.TrimSpace(r.Content) == "" || !question.IsValidType(qType) {
			continue
		}
		d := Draft{
			Content:    strings.TrimSpace(r.Content),
			QType:      qType,
			Options:    r.Options,
			Answer:     answerText(r.Answer),
			Analysis:   strings.TrimSpace(r.Analysis),
			Difficulty: r.Difficulty,
			Tags:       r.Tags,
		}
		if d.Difficulty < 1 || d.Difficulty > 5 {
			d.Difficulty = difficulty
		}
		if !question.RequiresOptions(qType) {
			d.Options = nil
		}
		if d.Tags == nil {
			d.Tags = []string{}
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("completion held no usable drafts")
	}
	return out, nil
}

func answerText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, v := range list {
			parts = append(parts, fmt.Sprint(v))
		}
		return strings.Join(parts, ",")
	}
	return strings.Trim(string(raw), `"`)
}

// localDrafts builds drafts from the sentences of text. The same input always
// yields the same drafts.
func localDrafts(text string, plan []typeCount, difficulty int) []Draft {
	sentences := splitSentences(text)
	tags := []string{"draft"}
	out := make([]Draft, 0)
	i := 0
	for _, tc := range plan {
		for n := 0; n < tc.n; n++ {
			s := sentences[i%len(sentences)]
			other := sentences[(i+1)%len(sentences)]
			i++
			d := Draft{QType: tc.qType, Difficulty: difficulty, Tags: tags}
			switch tc.qType {
			case question.TypeSingle:
				d.Content = "Which statement is supported by the material?"
				d.Options = []string{"A. " + s, "B. The material does not address this topic.", "C. The opposite of: " + s, "D. None of the above."}
				d.Answer = "A"
				d.Analysis = "The material states: " + s
			case question.TypeMulti:
				d.Content = "Which statements are supported by the material?"
				d.Options = []string{"A. " + s, "B. " + other, "C. The material does not address this topic.", "D. None of the above."}
				d.Answer = "A,B"
				d.Analysis = "Both A and B are taken from the material."
			case question.TypeJudge:
				d.Content = "True or false: " + s
				d.Answer = "true"
				d.Analysis = "The statement appears in the material."
			default:
				d.Content = "Explain in your own words: " + s
				d.Answer = s
				d.Analysis = "A complete answer restates and expands on the quoted passage."
			}
			out = append(out, d)
		}
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		s := strings.TrimSpace(cur.String())
		cur.Reset()
		if s != "" {
			out = append(out, truncateRunes(s, 200))
		}
	}
	for _, r := range text {
		switch r {
		case '.', '!', '?', '。', '！', '？', '\n':
			flush()
		default:
			if unicode.IsSpace(r) {
				r = ' '
			}
			cur.WriteRune(r)
		}
	}
	flush()
	if len(out) == 0 {
		out = append(out, truncateRunes(strings.TrimSpace(text), 200))
	}
	return out
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// ParseFile extracts plain text from an uploaded .txt, .md, .docx or .pdf file.
// Plain text that is not valid UTF-8 is decoded as GBK.
func (s *Service) ParseFile(filename string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".txt", ".md":
		text, err = decodePlainText(data)
	case ".docx":
		text, err = extractDOCX(data)
	case ".pdf":
		text, err = extractPDF(data)
	default:
		return "", fmt.Errorf("%w: %s files cannot be parsed; use .txt, .md, .docx or .pdf", apperr.ErrUnsupported, ext)
	}
	if err != nil {
		s.log.Warn("parse file failed", "file", filename, "error", err)
		return "", err
	}
	return text, nil
}

func decodePlainText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("%w: file is not valid UTF-8 or GBK text", apperr.ErrValidation)
	}
	return string(decoded), nil
}
