package e2e_test

import (
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sergioferragut/data-chat/citest/testutil"
	"github.com/sergioferragut/data-chat/internal/sandbox"
)

func uniqueID(name string) string {
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano()%1_000_000)
}

var _ = Describe("Chat against a real sandbox", func() {
	It("builds a session with a running sandbox", func() {
		id := uniqueID("build")
		s, err := client.CreateSession(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.State).To(Equal("ready"))
		Expect(s.Sandbox).To(HavePrefix(testutil.E2EPrefix))

		status, err := testServer.Runtime.Status(ctx, s.Sandbox)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(sandbox.Running))

		Expect(client.DeleteSession(ctx, id)).To(Succeed())
		Eventually(func() sandbox.Status {
			st, _ := testServer.Runtime.Status(ctx, s.Sandbox)
			return st
		}, 30*time.Second, 500*time.Millisecond).Should(Equal(sandbox.Absent))
	})

	It("answers through a sandbox tool and stores the transcript", func() {
		id := uniqueID("query")
		answer, err := client.Ask(ctx, id, "How many customers do we have?")
		Expect(err).NotTo(HaveOccurred())
		Expect(answer.Error).To(BeEmpty())
		Expect(answer.Text()).To(ContainSubstring("The query returned:"))
		Expect(answer.Text()).To(ContainSubstring(`"customer_id":3`))

		turns, err := client.Transcript(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(turns).To(HaveLen(2))
		Expect(turns[0].Role).To(Equal("user"))
		Expect(turns[1].Content).To(Equal(answer.Text()))

		Expect(client.DeleteSession(ctx, id)).To(Succeed())
	})

	It("replays history on the next turn", func() {
		id := uniqueID("history")
		_, err := client.Ask(ctx, id, "hello")
		Expect(err).NotTo(HaveOccurred())
		_, err = client.Ask(ctx, id, "which tables exist?")
		Expect(err).NotTo(HaveOccurred())

		reqs := testServer.LLM.Requests()
		Expect(reqs).NotTo(BeEmpty())
		last := reqs[len(reqs)-1].Body["messages"].([]any)
		Expect(len(last)).To(BeNumerically(">=", 4))

		Expect(client.DeleteSession(ctx, id)).To(Succeed())
	})

	It("reports a missing table as an answer, not a failure", func() {
		id := uniqueID("missing")
		answer, err := client.Ask(ctx, id, "Sum the invoices please")
		Expect(err).NotTo(HaveOccurred())
		Expect(answer.Error).To(BeEmpty())
		Expect(answer.Text()).To(ContainSubstring("does not exist"))

		Expect(client.DeleteSession(ctx, id)).To(Succeed())
	})

	It("publishes lifecycle events", func() {
		id := uniqueID("events")
		sse := testServer.SSEClient()
		Expect(sse.Connect(ctx, "/event?sessionID="+id)).To(Succeed())
		defer sse.Close()

		_, err := client.CreateSession(ctx, id)
		Expect(err).NotTo(HaveOccurred())

		_, err = sse.WaitForBusEvent("sandbox.provisioned", 30*time.Second)
		Expect(err).NotTo(HaveOccurred())

		Expect(client.DeleteSession(ctx, id)).To(Succeed())
		_, err = sse.WaitForBusEvent("session.closed", 30*time.Second)
		Expect(err).NotTo(HaveOccurred())
	})

	It("sweeps exited sandboxes", func() {
		res := testServer.Janitor.Sweep(ctx)
		Expect(res.Failed).To(BeZero())
	})
})
