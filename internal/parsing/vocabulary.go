package parsing

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Unit is a shorthand suffix and the multiplier it stands for
type Unit struct {
	Suffix     string `toml:"suffix"`
	Multiplier int64  `toml:"multiplier"`
}

// CategoryRule maps keywords to a category. Rules are tried in order and the
// first rule with a matching keyword wins.
type CategoryRule struct {
	Category string   `toml:"name"`
	Keywords []string `toml:"keywords"`
}

// Vocabulary is the business vocabulary the extractor understands
type Vocabulary struct {
	Units           []Unit         `toml:"units"`
	IncomeKeywords  []string       `toml:"income_keywords"`
	ExpenseKeywords []string       `toml:"expense_keywords"`
	Categories      []CategoryRule `toml:"categories"`
}

// DefaultVocabulary returns the built-in Indonesian vocabulary
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Units: []Unit{
			{Suffix: "rb", Multiplier: 1_000},
			{Suffix: "ribu", Multiplier: 1_000},
			{Suffix: "k", Multiplier: 1_000},
			{Suffix: "jt", Multiplier: 1_000_000},
			{Suffix: "juta", Multiplier: 1_000_000},
		},
		IncomeKeywords: []string{
			"gaji", "masuk", "terima", "dapat", "pemasukan", "diterima",
			"bonus", "komisi", "dividen", "bunga", "hadiah", "warisan",
			"penjualan", "refund", "kembalian", "cashback",
			"transfer dari", "kiriman dari", "diberi", "dikasih",
		},
		ExpenseKeywords: []string{
			"beli", "bayar", "belanja", "pengeluaran", "keluar", "dibayar",
			"membeli", "memesan", "berlangganan", "sewa", "booking",
			"bensin", "pulsa", "tagihan", "biaya", "iuran",
			"transfer ke", "kirim ke",
		},
		Categories: []CategoryRule{
			{Category: "makanan", Keywords: []string{"makan", "food", "resto", "warung", "cafe", "kopi", "snack", "jajan", "minum", "sarapan"}},
			{Category: "transportasi", Keywords: []string{"bensin", "parkir", "tol", "ojek", "grab", "gojek", "taxi", "taksi", "bus", "kereta"}},
			{Category: "belanja", Keywords: []string{"belanja", "beli", "shopping", "toko", "mart", "alfamart", "indomaret"}},
			{Category: "tagihan", Keywords: []string{"tagihan", "listrik", "air", "pdam", "internet", "wifi", "pulsa", "paket data"}},
			{Category: "kesehatan", Keywords: []string{"obat", "dokter", "rumah sakit", "klinik", "apotek", "vitamin"}},
			{Category: "hiburan", Keywords: []string{"film", "bioskop", "game", "streaming", "netflix", "spotify"}},
			{Category: "pendidikan", Keywords: []string{"buku", "kursus", "les", "sekolah", "kuliah", "spp"}},
			{Category: "iuran", Keywords: []string{"iuran", "arisan", "sumbangan", "donasi", "zakat", "infaq"}},
			{Category: "gaji", Keywords: []string{"gaji", "salary", "upah"}},
			{Category: "bonus", Keywords: []string{"bonus", "thr", "insentif"}},
		},
	}
}

// LoadVocabulary reads a TOML vocabulary file. Sections the file leaves out
// keep their default values.
func LoadVocabulary(path string) (Vocabulary, error) {
	var v Vocabulary
	if _, err := toml.DecodeFile(path, &v); err != nil {
		return Vocabulary{}, fmt.Errorf("decoding vocabulary: %w", err)
	}

	def := DefaultVocabulary()
	if len(v.Units) == 0 {
		v.Units = def.Units
	}
	if len(v.IncomeKeywords) == 0 {
		v.IncomeKeywords = def.IncomeKeywords
	}
	if len(v.ExpenseKeywords) == 0 {
		v.ExpenseKeywords = def.ExpenseKeywords
	}
	if len(v.Categories) == 0 {
		v.Categories = def.Categories
	}

	if err := v.Validate(); err != nil {
		return Vocabulary{}, err
	}
	return v.normalized(), nil
}

// Validate rejects units without a suffix or a positive multiplier and
// categories without a name
func (v Vocabulary) Validate() error {
	for _, u := range v.Units {
		if strings.TrimSpace(u.Suffix) == "" || u.Multiplier <= 0 {
			return fmt.Errorf("invalid unit %q (multiplier %d)", u.Suffix, u.Multiplier)
		}
	}
	for i, c := range v.Categories {
		if strings.TrimSpace(c.Category) == "" {
			return fmt.Errorf("category rule %d has no name", i)
		}
	}
	return nil
}

func (v Vocabulary) normalized() Vocabulary {
	out := Vocabulary{
		IncomeKeywords:  lowerAll(v.IncomeKeywords),
		ExpenseKeywords: lowerAll(v.ExpenseKeywords),
	}
	for _, u := range v.Units {
		out.Units = append(out.Units, Unit{Suffix: strings.ToLower(strings.TrimSpace(u.Suffix)), Multiplier: u.Multiplier})
	}
	for _, c := range v.Categories {
		out.Categories = append(out.Categories, CategoryRule{
			Category: strings.ToLower(strings.TrimSpace(c.Category)),
			Keywords: lowerAll(c.Keywords),
		})
	}
	return out
}

func lowerAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}
