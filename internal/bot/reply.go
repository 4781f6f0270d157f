package bot

import (
	"fmt"
	"strings"

	"github.com/zombor/finance-bot/internal/ledger"
	"github.com/zombor/finance-bot/internal/scanning"
	"github.com/zombor/finance-bot/internal/session"
)

// Option is a button the user can press in answer to a reply
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Reply is what the bot sends back for one event
type Reply struct {
	Text    string   `json:"text"`
	Options []Option `json:"options,omitempty"`
}

// Callback option IDs
const (
	OptionTotal      = "receipt:total"
	OptionItems      = "receipt:items"
	OptionCategories = "receipt:categories"
	OptionConfirm    = "receipt:confirm"
	OptionCancel     = "receipt:cancel"
)

var modeOptions = map[string]session.Mode{
	OptionTotal:      session.ModeTotal,
	OptionItems:      session.ModeItems,
	OptionCategories: session.ModeCategories,
}

var (
	chooseModeOptions = []Option{
		{ID: OptionTotal, Label: "💰 Catat total saja"},
		{ID: OptionItems, Label: "📋 Catat per item"},
		{ID: OptionCategories, Label: "📂 Catat per kategori"},
		{ID: OptionCancel, Label: "❌ Batal"},
	}
	confirmOptions = []Option{
		{ID: OptionConfirm, Label: "✅ Simpan"},
		{ID: OptionCancel, Label: "❌ Batal"},
	}
)

// maxPreviewItems keeps receipt previews short enough for a chat message
const maxPreviewItems = 10

const helpText = `📖 Cara pakai:
• Ketik transaksi, contoh: "Makan siang 35rb" atau "Gaji masuk 5jt"
• Beberapa transaksi sekaligus: satu per baris
• Kirim foto struk untuk dibaca otomatis

Perintah:
/catat - cara mencatat transaksi
/laporan [hari|minggu|bulan] - ringkasan keuangan
/hapus - hapus transaksi terakhir
/sheet - status spreadsheet
/me - lihat user ID Anda
/help - bantuan ini`

const catatText = `✍️ Ketik transaksi dengan nominal di akhir, misalnya:
• Makan siang 35rb
• Bensin 50 rb
• Gaji masuk 5jt
• Belanja bulanan Rp1.250.000
Satuan yang dikenal: rb/ribu/k (ribu) dan jt/juta (juta).
Tambahkan "kemarin" untuk transaksi kemarin.`

const (
	textUnauthorized     = "⛔ Maaf, Anda tidak memiliki akses ke bot ini."
	textNoAmount         = "🤔 Nominal tidak ditemukan. Coba lagi dengan format seperti: Makan siang 35rb"
	textNoSession        = "ℹ️ Tidak ada struk yang sedang diproses."
	textExpired          = "⌛ Sesi struk sudah kedaluwarsa. Silakan kirim ulang fotonya."
	textCancelled        = "❌ Pencatatan struk dibatalkan."
	textPending          = "⏳ Disimpan lokal, sinkronisasi ke spreadsheet tertunda."
	textUnavailable      = "⚠️ Layanan pembaca struk tidak tersedia. Silakan catat manual, contoh: Belanja Indomaret 150rb"
	textManual           = "😕 Struk tidak terbaca. Silakan catat manual, contoh: Belanja Indomaret 150rb"
	textStoreFailed      = "❗ Gagal menyimpan transaksi. Kirim ulang baris yang belum tercatat."
	textStoreRetry       = "❗ Gagal menyimpan %d transaksi. Tekan Simpan untuk mencoba lagi."
	textRejected         = "❗ Transaksi tidak valid dan tidak disimpan."
	textRequestCancelled = "⌛ Permintaan dibatalkan. Silakan coba lagi."
)

func directionLabel(d ledger.Direction) string {
	if d == ledger.Income {
		return "Pemasukan"
	}
	return "Pengeluaran"
}

func formatTransaction(t ledger.Transaction) string {
	return fmt.Sprintf("%s %s (%s) - %s", directionLabel(t.Direction), ledger.FormatRupiah(t.Amount), t.Category, t.Note)
}

func formatReceipt(r ledger.Receipt, outcome scanning.Outcome) string {
	var b strings.Builder
	b.WriteString("🧾 Struk terbaca")
	if outcome == scanning.FallbackExtracted {
		b.WriteString(" dari keterangan foto (perkiraan)")
	}
	b.WriteString("\n")
	if r.Store != "" {
		fmt.Fprintf(&b, "Toko: %s\n", r.Store)
	}
	if !r.Date.IsZero() {
		fmt.Fprintf(&b, "Tanggal: %s\n", r.Date.Format("02/01/2006"))
	}

	if len(r.Items) > 0 {
		b.WriteString("\n")
	}
	for i, item := range r.Items {
		if i == maxPreviewItems {
			fmt.Fprintf(&b, "... dan %d item lainnya\n", len(r.Items)-maxPreviewItems)
			break
		}
		fmt.Fprintf(&b, "• %s: %s\n", item.Label, ledger.FormatRupiah(item.Amount))
	}

	if r.Tax > 0 {
		fmt.Fprintf(&b, "Pajak: %s\n", ledger.FormatRupiah(r.Tax))
	}
	if r.Discount > 0 {
		fmt.Fprintf(&b, "Diskon: %s\n", ledger.FormatRupiah(r.Discount))
	}
	fmt.Fprintf(&b, "\nTotal: %s\n\nMau dicatat bagaimana?", ledger.FormatRupiah(r.GrandTotal()))
	return b.String()
}

func formatCandidates(txs []ledger.Transaction) string {
	var b strings.Builder
	b.WriteString("Akan dicatat:\n")
	var total int64
	for _, t := range txs {
		total += t.Amount
		fmt.Fprintf(&b, "• %s: %s (%s)\n", t.Note, ledger.FormatRupiah(t.Amount), t.Category)
	}
	fmt.Fprintf(&b, "\nTotal: %s\nSimpan?", ledger.FormatRupiah(total))
	return b.String()
}

func formatReport(p ledger.Period, s ledger.Summary) string {
	titles := map[ledger.Period]string{
		ledger.PeriodDay:   "hari ini",
		ledger.PeriodWeek:  "7 hari terakhir",
		ledger.PeriodMonth: "bulan ini",
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Laporan %s\n\n", titles[p])
	if s.Count == 0 {
		b.WriteString("Belum ada transaksi.")
		return b.String()
	}
	fmt.Fprintf(&b, "Pemasukan: %s\n", ledger.FormatRupiah(s.Income))
	fmt.Fprintf(&b, "Pengeluaran: %s\n", ledger.FormatRupiah(s.Expense))
	fmt.Fprintf(&b, "Saldo: %s\n", ledger.FormatRupiah(s.Balance()))
	if len(s.Categories) > 0 {
		b.WriteString("\nPengeluaran per kategori:\n")
		for _, c := range s.Categories {
			fmt.Fprintf(&b, "• %s: %s (%d)\n", c.Category, ledger.FormatRupiah(c.Amount), c.Count)
		}
	}
	fmt.Fprintf(&b, "\nJumlah transaksi: %d", s.Count)
	return b.String()
}
