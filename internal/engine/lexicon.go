package engine

import (
	"strings"
	"unicode"
)

type topic struct {
	name       string
	popularity float64
	keywords   []string
}

// topics is ordered; tag output follows this order.
var topics = []topic{
	{"life", 0.8, []string{"life", "daily", "today", "yesterday", "tomorrow", "home", "生活", "日常", "今天", "昨天", "明天"}},
	{"tech", 0.9, []string{"tech", "technology", "ai", "software", "code", "coding", "programming", "golang", "科技", "技术", "人工智能", "编程"}},
	{"art", 0.6, []string{"art", "painting", "drawing", "design", "creative", "艺术", "绘画", "创作", "设计"}},
	{"travel", 0.75, []string{"travel", "trip", "journey", "vacation", "scenery", "旅行", "旅游", "风景", "景点", "度假"}},
	{"food", 0.85, []string{"food", "restaurant", "cooking", "recipe", "delicious", "美食", "食物", "餐厅", "烹饪", "味道"}},
	{"music", 0.7, []string{"music", "song", "concert", "album", "音乐", "歌曲", "演唱会"}},
	{"sports", 0.7, []string{"sports", "football", "soccer", "basketball", "running", "fitness", "运动", "足球", "篮球", "跑步", "健身"}},
	{"nature", 0.55, []string{"nature", "forest", "mountain", "ocean", "flowers", "自然", "森林", "山", "海洋", "花"}},
}

var positiveWords = []string{
	"good", "great", "love", "like", "happy", "joy", "beautiful", "excellent", "amazing", "awesome", "wonderful",
	"好", "棒", "喜欢", "爱", "开心", "快乐", "美丽", "优秀",
}

var negativeWords = []string{
	"bad", "poor", "hate", "sad", "awful", "terrible", "ugly", "painful", "worst", "angry",
	"坏", "差", "讨厌", "恨", "难过", "痛苦", "丑陋", "糟糕",
}

// Style tags, in output order.
const (
	tagQuestion    = "question"
	tagExclamatory = "exclamatory"
	tagMedia       = "media"
	tagShortForm   = "short-form"
	tagLongForm    = "long-form"
)

// basePopularity is used for seeds without a known topic.
const basePopularity = 0.3

// textFeatures is the lexical view of a piece of content shared by the
// content agent's operations.
type textFeatures struct {
	lower  string
	tokens []string
	set    map[string]bool
	runes  int
}

func newTextFeatures(content string) textFeatures {
	tokens := tokenize(content)
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return textFeatures{
		lower:  strings.ToLower(content),
		tokens: tokens,
		set:    set,
		runes:  len([]rune(strings.TrimSpace(content))),
	}
}

// has matches latin keywords by token and Han keywords by substring.
func (f textFeatures) has(keyword string) bool {
	for _, r := range keyword {
		if unicode.Is(unicode.Han, r) {
			return strings.Contains(f.lower, keyword)
		}
	}
	return f.set[keyword]
}

func (f textFeatures) count(words []string) int {
	n := 0
	for _, w := range words {
		if f.has(w) {
			n++
		}
	}
	return n
}

func (f textFeatures) topics() []string {
	var out []string
	for _, t := range topics {
		for _, kw := range t.keywords {
			if f.has(kw) {
				out = append(out, t.name)
				break
			}
		}
	}
	return out
}

func topicPopularity(name string) (float64, bool) {
	for _, t := range topics {
		if t.name == name {
			return t.popularity, true
		}
	}
	return 0, false
}

func isTopic(name string) bool {
	_, ok := topicPopularity(name)
	return ok
}
