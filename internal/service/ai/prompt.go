package ai

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/schema"
)

// Language is the reply language inferred from the user's question.
type Language string

const (
	English    Language = "en"
	Vietnamese Language = "vi"
)

const (
	notFoundEnglish    = "I could not find the exact information in the internal documentation."
	notFoundVietnamese = "Tôi không tìm thấy thông tin chính xác trong tài liệu nội bộ."
)

// NotFoundMessage returns the fixed reply used when the handbook has no answer.
func NotFoundMessage(lang Language) string {
	if lang == Vietnamese {
		return notFoundVietnamese
	}
	return notFoundEnglish
}

// vietnameseLetters are letters that only appear in Vietnamese among the supported languages.
const vietnameseLetters = "ăâđêôơưạảấầẩẫậắằẳẵặẹẻẽếềểễệỉịọỏốồổỗộớờởỡợụủứừửữựỳỵỷỹ"

// DetectLanguage makes a best-effort guess between English and Vietnamese.
func DetectLanguage(text string) Language {
	for _, r := range strings.ToLower(text) {
		if r > unicode.MaxASCII && strings.ContainsRune(vietnameseLetters, r) {
			return Vietnamese
		}
	}
	return English
}

const systemPromptTemplate = `You are an internal company assistant referencing the official Handbook.
Your task is to answer clearly and concisely.

You MUST rely ONLY on the information provided in the CONTEXT below.

LANGUAGE RULES:
1. Detect the language of the user question.
2. If the user asks in English, answer in English.
3. If the user asks in Vietnamese, answer in Vietnamese.
4. If the answer cannot be found in context:
   - If the user asks in English, reply exactly:
     "%s"
   - If the user asks in Vietnamese, reply exactly:
     "%s"

CONTEXT:
%s

Answer in the same language as the user question.`

// BuildSystemPrompt renders the grounded system prompt for the retrieved passages.
func BuildSystemPrompt(docs []*schema.Document) string {
	return fmt.Sprintf(systemPromptTemplate, notFoundEnglish, notFoundVietnamese, formatContext(docs))
}

func formatContext(docs []*schema.Document) string {
	blocks := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		title, _ := doc.MetaData["title"].(string)
		if title == "" {
			title = "unknown"
		}
		blocks = append(blocks, fmt.Sprintf("[Source: %s]\n%s", title, doc.Content))
	}
	return strings.Join(blocks, "\n\n---\n\n")
}
