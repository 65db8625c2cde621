package romaji

// table maps romaji sequences to hiragana. An empty value marks a prefix
// that may still grow into a longer sequence. It is built once and never
// modified, so every context shares it.
var table = buildTable()

var rows = []struct {
	consonant string
	kana      [5]string // a i u e o
}{
	{"", [5]string{"あ", "い", "う", "え", "お"}},
	{"k", [5]string{"か", "き", "く", "け", "こ"}},
	{"g", [5]string{"が", "ぎ", "ぐ", "げ", "ご"}},
	{"s", [5]string{"さ", "し", "す", "せ", "そ"}},
	{"z", [5]string{"ざ", "じ", "ず", "ぜ", "ぞ"}},
	{"t", [5]string{"た", "ち", "つ", "て", "と"}},
	{"d", [5]string{"だ", "ぢ", "づ", "で", "ど"}},
	{"n", [5]string{"な", "に", "ぬ", "ね", "の"}},
	{"h", [5]string{"は", "ひ", "ふ", "へ", "ほ"}},
	{"f", [5]string{"ふぁ", "ふぃ", "ふ", "ふぇ", "ふぉ"}},
	{"b", [5]string{"ば", "び", "ぶ", "べ", "ぼ"}},
	{"p", [5]string{"ぱ", "ぴ", "ぷ", "ぺ", "ぽ"}},
	{"m", [5]string{"ま", "み", "む", "め", "も"}},
	{"y", [5]string{"や", "い", "ゆ", "いぇ", "よ"}},
	{"r", [5]string{"ら", "り", "る", "れ", "ろ"}},
	{"w", [5]string{"わ", "うぃ", "う", "うぇ", "を"}},
	{"v", [5]string{"ゔぁ", "ゔぃ", "ゔ", "ゔぇ", "ゔぉ"}},
	{"j", [5]string{"じゃ", "じ", "じゅ", "じぇ", "じょ"}},
	{"x", [5]string{"ぁ", "ぃ", "ぅ", "ぇ", "ぉ"}},
	{"l", [5]string{"ぁ", "ぃ", "ぅ", "ぇ", "ぉ"}},
	{"c", [5]string{"か", "し", "く", "せ", "こ"}},
	{"q", [5]string{"くぁ", "くぃ", "く", "くぇ", "くぉ"}},
}

var palatal = map[string]string{
	"ky": "き", "gy": "ぎ", "sy": "し", "zy": "じ", "ty": "ち", "dy": "ぢ",
	"ny": "に", "hy": "ひ", "by": "び", "py": "ぴ", "my": "み", "ry": "り",
	"sh": "し", "ch": "ち",
}

var extra = map[string]string{
	"shi": "し", "chi": "ち", "tsu": "つ", "ts": "", "nn": "ん", "n'": "ん",
	"xtu": "っ", "xt": "", "ltu": "っ", "lt": "", "xya": "ゃ", "xyu": "ゅ", "xyo": "ょ",
	"xy": "", "lya": "ゃ", "lyu": "ゅ", "lyo": "ょ", "ly": "",
	"-": "ー", ",": "、", ".": "。", "[": "「", "]": "」",
}

func buildTable() map[string]string {
	vowels := "aiueo"
	small := [5]string{"ゃ", "ぃ", "ゅ", "ぇ", "ょ"}

	t := make(map[string]string)
	for _, row := range rows {
		if row.consonant != "" {
			t[row.consonant] = ""
		}
		for i, v := range vowels {
			t[row.consonant+string(v)] = row.kana[i]
		}
	}
	for prefix, base := range palatal {
		t[prefix] = ""
		for i, v := range vowels {
			if prefix == "sh" || prefix == "ch" {
				if v == 'i' {
					continue
				}
			}
			t[prefix+string(v)] = base + small[i]
		}
	}
	for k, v := range extra {
		t[k] = v
	}
	return t
}

// isSokuonPair reports whether s is a doubled consonant such as "kk",
// which produces a small tsu and keeps the second consonant pending.
func isSokuonPair(s string) bool {
	if len(s) != 2 || s[0] != s[1] {
		return false
	}
	switch s[0] {
	case 'a', 'i', 'u', 'e', 'o', 'n':
		return false
	}
	_, ok := table[s[:1]]
	return ok
}
