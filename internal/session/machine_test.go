package session

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/finance-bot/internal/ledger"
)

func sumAmounts(txs []ledger.Transaction) int64 {
	var sum int64
	for _, t := range txs {
		sum += t.Amount
	}
	return sum
}

var _ = Describe("Machine", func() {
	var (
		machine *Machine
		now     time.Time
		receipt ledger.Receipt
	)

	const user = int64(42)

	BeforeEach(func() {
		now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
		machine = NewMachineWithClock(10*time.Minute, func() time.Time { return now })
		receipt = ledger.Receipt{
			Store: "Indomaret",
			Date:  time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
			Items: []ledger.LineItem{
				{Label: "Kopi", Amount: 30_000, Category: "makanan"},
				{Label: "Sabun", Amount: 20_000, Category: "belanja"},
				{Label: "Roti", Amount: 15_000, Category: "makanan"},
			},
			Total: 65_000,
		}
	})

	Describe("photo, total, confirm", func() {
		It("yields exactly one transaction equal to the receipt total", func() {
			Expect(machine.Begin(user, receipt, "photo-1")).To(BeNil())

			s, err := machine.SelectMode(user, ModeTotal)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.State).To(Equal(AwaitingConfirmation))

			s, err = machine.Confirm(user)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Candidates).To(HaveLen(1))

			t := s.Candidates[0]
			Expect(t.Amount).To(Equal(int64(65_000)))
			Expect(t.Direction).To(Equal(ledger.Expense))
			Expect(t.Category).To(Equal("belanja"))
			Expect(t.Note).To(Equal("Belanja di Indomaret"))
			Expect(t.Source).To(Equal(ledger.SourceReceiptTotal))
			Expect(t.Date).To(Equal(receipt.Date))
			Expect(t.Receipt).To(Equal("photo-1"))

			_, open := machine.Get(user)
			Expect(open).To(BeFalse())
		})
	})

	Describe("photo, per-item, confirm", func() {
		It("yields one transaction per line item summing to the total", func() {
			machine.Begin(user, receipt, "")
			_, err := machine.SelectMode(user, ModeItems)
			Expect(err).NotTo(HaveOccurred())

			s, err := machine.Confirm(user)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Candidates).To(HaveLen(3))
			Expect(sumAmounts(s.Candidates)).To(Equal(receipt.Total))
			Expect(s.Candidates[0].Note).To(Equal("Kopi di Indomaret"))
			Expect(s.Candidates[0].Source).To(Equal(ledger.SourceReceiptItem))
		})
	})

	Describe("photo, per-category, confirm", func() {
		It("groups items by category in first-appearance order", func() {
			machine.Begin(user, receipt, "")
			_, err := machine.SelectMode(user, ModeCategories)
			Expect(err).NotTo(HaveOccurred())

			s, err := machine.Confirm(user)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Candidates).To(HaveLen(2))
			Expect(s.Candidates[0].Category).To(Equal("makanan"))
			Expect(s.Candidates[0].Amount).To(Equal(int64(45_000)))
			Expect(s.Candidates[0].Note).To(Equal("Belanja makanan di Indomaret"))
			Expect(s.Candidates[1].Category).To(Equal("belanja"))
			Expect(s.Candidates[1].Amount).To(Equal(int64(20_000)))
		})
	})

	When("confirming before choosing a mode", func() {
		It("is a no-op", func() {
			machine.Begin(user, receipt, "")
			before, _ := machine.Get(user)

			s, err := machine.Confirm(user)
			Expect(err).To(MatchError(ErrInvalidTransition))
			Expect(s.Candidates).To(BeEmpty())

			after, open := machine.Get(user)
			Expect(open).To(BeTrue())
			Expect(after).To(Equal(before))
		})
	})

	When("a second photo arrives while awaiting confirmation", func() {
		It("discards the first session entirely", func() {
			machine.Begin(user, receipt, "photo-1")
			_, err := machine.SelectMode(user, ModeItems)
			Expect(err).NotTo(HaveOccurred())

			second := ledger.Receipt{
				Store: "Alfamart",
				Items: []ledger.LineItem{{Label: "Air", Amount: 5_000, Category: "makanan"}},
				Total: 5_000,
			}
			previous := machine.Begin(user, second, "photo-2")
			Expect(previous).NotTo(BeNil())
			Expect(previous.Photo).To(Equal("photo-1"))

			s, _ := machine.Get(user)
			Expect(s.State).To(Equal(AwaitingMode))
			Expect(s.Candidates).To(BeEmpty())
			Expect(s.Mode).To(BeEmpty())

			_, err = machine.SelectMode(user, ModeItems)
			Expect(err).NotTo(HaveOccurred())
			s, err = machine.Confirm(user)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Candidates).To(HaveLen(1))
			Expect(s.Candidates[0].Note).To(Equal("Air di Alfamart"))
			Expect(s.Candidates[0].Receipt).To(Equal("photo-2"))
		})
	})

	When("selecting the same mode twice", func() {
		It("produces the same candidates as selecting once", func() {
			machine.Begin(user, receipt, "")
			once, err := machine.SelectMode(user, ModeCategories)
			Expect(err).NotTo(HaveOccurred())

			twice, err := machine.SelectMode(user, ModeCategories)
			Expect(err).To(MatchError(ErrInvalidTransition))
			Expect(twice.Candidates).To(Equal(once.Candidates))

			s, err := machine.Confirm(user)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Candidates).To(Equal(once.Candidates))
		})
	})

	When("selecting a mode with no session", func() {
		It("reports an invalid transition", func() {
			_, err := machine.SelectMode(user, ModeTotal)
			Expect(err).To(MatchError(ErrInvalidTransition))
		})
	})

	Describe("Reopen", func() {
		It("puts unstored candidates back up for confirmation", func() {
			machine.Begin(user, receipt, "photo-1")
			machine.SelectMode(user, ModeItems)
			confirmed, err := machine.Confirm(user)
			Expect(err).NotTo(HaveOccurred())

			now = now.Add(time.Minute)
			Expect(machine.Reopen(confirmed, confirmed.Candidates[1:])).To(BeTrue())

			s, open := machine.Get(user)
			Expect(open).To(BeTrue())
			Expect(s.State).To(Equal(AwaitingConfirmation))
			Expect(s.Photo).To(Equal("photo-1"))
			Expect(s.UpdatedAt).To(Equal(now))
			Expect(s.Candidates).To(Equal(confirmed.Candidates[1:]))

			s, err = machine.Confirm(user)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Candidates).To(HaveLen(2))
		})

		It("does nothing when every candidate was stored", func() {
			machine.Begin(user, receipt, "")
			machine.SelectMode(user, ModeTotal)
			confirmed, _ := machine.Confirm(user)

			Expect(machine.Reopen(confirmed, nil)).To(BeFalse())
			Expect(machine.Active()).To(Equal(0))
		})

		It("never overwrites a newer session", func() {
			machine.Begin(user, receipt, "")
			machine.SelectMode(user, ModeTotal)
			confirmed, _ := machine.Confirm(user)
			machine.Begin(user, receipt, "photo-2")

			Expect(machine.Reopen(confirmed, confirmed.Candidates)).To(BeFalse())
			s, _ := machine.Get(user)
			Expect(s.State).To(Equal(AwaitingMode))
			Expect(s.Photo).To(Equal("photo-2"))
		})
	})

	Describe("Cancel", func() {
		It("discards the session from either waiting state", func() {
			machine.Begin(user, receipt, "photo-1")
			s, err := machine.Cancel(user)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Photo).To(Equal("photo-1"))
			Expect(machine.Active()).To(BeZero())

			machine.Begin(user, receipt, "")
			_, err = machine.SelectMode(user, ModeTotal)
			Expect(err).NotTo(HaveOccurred())
			_, err = machine.Cancel(user)
			Expect(err).NotTo(HaveOccurred())

			_, err = machine.Confirm(user)
			Expect(err).To(MatchError(ErrInvalidTransition))
		})

		It("is a no-op without a session", func() {
			_, err := machine.Cancel(user)
			Expect(err).To(MatchError(ErrInvalidTransition))
		})
	})

	When("the session has been idle too long", func() {
		BeforeEach(func() {
			machine.Begin(user, receipt, "photo-1")
			_, err := machine.SelectMode(user, ModeTotal)
			Expect(err).NotTo(HaveOccurred())
			now = now.Add(11 * time.Minute)
		})

		It("treats it as cancelled on next access", func() {
			s, err := machine.Confirm(user)
			Expect(err).To(MatchError(ErrExpired))
			Expect(err).To(MatchError(ErrInvalidTransition))
			Expect(s.Photo).To(Equal("photo-1"))
			Expect(machine.Active()).To(BeZero())
		})

		It("is returned by Sweep", func() {
			expired := machine.Sweep()
			Expect(expired).To(HaveLen(1))
			Expect(expired[0].UserID).To(Equal(user))
			Expect(machine.Active()).To(BeZero())
		})
	})

	When("the session is still fresh", func() {
		It("is kept by Sweep", func() {
			machine.Begin(user, receipt, "")
			now = now.Add(5 * time.Minute)
			Expect(machine.Sweep()).To(BeEmpty())
			Expect(machine.Active()).To(Equal(1))
		})
	})

	When("the receipt has no usable items", func() {
		It("refuses per-item mode and leaves the session waiting", func() {
			machine.Begin(user, ledger.Receipt{Total: 10_000}, "")
			_, err := machine.SelectMode(user, ModeItems)
			Expect(err).To(HaveOccurred())

			s, _ := machine.Get(user)
			Expect(s.State).To(Equal(AwaitingMode))

			_, err = machine.SelectMode(user, ModeTotal)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("concurrent users", func() {
		It("keeps every user's session isolated", func() {
			var wg sync.WaitGroup
			for i := int64(1); i <= 50; i++ {
				wg.Add(1)
				go func(id int64) {
					defer GinkgoRecover()
					defer wg.Done()

					r := ledger.Receipt{
						Items: []ledger.LineItem{{Label: "x", Amount: id * 1_000, Category: "makanan"}},
						Total: id * 1_000,
					}
					machine.Begin(id, r, "")
					_, err := machine.SelectMode(id, ModeTotal)
					Expect(err).NotTo(HaveOccurred())
					s, err := machine.Confirm(id)
					Expect(err).NotTo(HaveOccurred())
					Expect(s.Candidates).To(HaveLen(1))
					Expect(s.Candidates[0].Amount).To(Equal(id * 1_000))
					Expect(s.Candidates[0].UserID).To(Equal(id))
				}(i)
			}
			wg.Wait()
			Expect(machine.Active()).To(BeZero())
		})
	})
})

var _ = DescribeTable("ParseMode",
	func(input string, expected Mode, ok bool) {
		mode, found := ParseMode(input)
		Expect(found).To(Equal(ok))
		Expect(mode).To(Equal(expected))
	},
	Entry("total", "total", ModeTotal, true),
	Entry("per-item", "per-item", ModeItems, true),
	Entry("kategori", "kategori", ModeCategories, true),
	Entry("unknown", "semua", Mode(""), false),
)
