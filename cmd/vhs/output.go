package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/postfiatorg/validator-history-service/internal/cycle"
	"github.com/postfiatorg/validator-history-service/internal/events"
	"github.com/postfiatorg/validator-history-service/internal/model"
	"github.com/postfiatorg/validator-history-service/internal/ui"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printManifest(m *model.Manifest) {
	fmt.Printf("Signing Key:  %s\n", m.SigningKey)
	fmt.Printf("Master Key:   %s\n", orNone(m.MasterKey))
	fmt.Printf("Sequence:     %d\n", m.Sequence)
	fmt.Printf("Domain:       %s\n", orNone(m.Domain))
	fmt.Printf("Signature OK: %s\n", ui.RenderBool(m.SignatureVerified))
}

func printVerdict(v model.Verdict) {
	if v.Manifest != nil {
		printManifest(v.Manifest)
	}
	fmt.Printf("Verified:     %s\n", ui.RenderBool(v.Verified))
	fmt.Printf("Reason:       %s\n", v.Message)
	if !v.Conclusive {
		fmt.Printf("              %s\n", ui.RenderMuted("(inconclusive: network failure)"))
	}
}

func printReport(r *cycle.Report) {
	fmt.Printf("Cycle %s  %s\n", ui.RenderAccent(r.ID), ui.RenderMuted(r.Finished.Sub(r.Started).String()))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSUCCEEDED\tFAILED\tNOTE")
	for _, s := range r.Steps {
		note := s.Err
		if s.Skipped {
			note = "skipped"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", s.Step, s.Succeeded, s.Failed, note)
	}
	w.Flush()
}

func printParticipants(ps []*model.Participant) {
	if len(ps) == 0 {
		fmt.Println(ui.RenderMuted("no participants"))
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNING KEY\tMASTER KEY\tDOMAIN\tVERIFIED\tREVOKED\tLIST")
	for _, p := range ps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\t%s\n",
			p.SigningKey, orNone(p.MasterKey), orNone(p.Domain), p.DomainVerified, p.Revoked, orNone(p.ListTag))
	}
	w.Flush()
}

func printEvent(topic string, ev any) {
	switch e := ev.(type) {
	case *events.ManifestIngested:
		fmt.Printf("%s %s seq=%d %s\n", ui.RenderAccent(topic), e.Manifest.SigningKey, e.Manifest.Sequence, ui.RenderMuted(e.Message))
	case *events.ManifestRevoked:
		fmt.Printf("%s %s seq=%d master=%s\n", ui.RenderFail(topic), e.Change.SigningKey, e.Change.Sequence, e.Change.MasterKey)
	case *events.CycleCompleted:
		fmt.Printf("%s %s in %s\n", ui.RenderOK(topic), e.CycleID, e.Duration)
	default:
		fmt.Printf("%s %v\n", topic, ev)
	}
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
