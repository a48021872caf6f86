package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/energizer-project/pingd/internal/db"
	"github.com/energizer-project/pingd/internal/status"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

// RenderStatus prints a decoded status response.
func RenderStatus(w io.Writer, addr string, resp *status.Response, latency time.Duration) {
	favicon := "none"
	if resp.Favicon != "" {
		favicon = fmt.Sprintf("yes (%d bytes)", len(resp.Favicon))
	}

	tw := newTable(w, "Field", "Value")
	tw.Append([]string{"Address", addr})
	tw.Append([]string{"Version", fmt.Sprintf("%s (protocol %d)", resp.Version.Name, resp.Version.Protocol)})
	tw.Append([]string{"Players", fmt.Sprintf("%d/%d", resp.Players.Online, resp.Players.Max)})
	tw.Append([]string{"MOTD", StripFormatting(resp.Description.Text)})
	tw.Append([]string{"Favicon", favicon})
	tw.Append([]string{"Latency", latency.Round(time.Millisecond).String()})
	tw.Render()

	if len(resp.Players.Sample) == 0 {
		return
	}

	sample := newTable(w, "Player", "UUID")
	for _, p := range resp.Players.Sample {
		sample.Append([]string{p.Name, p.ID})
	}
	sample.Render()
}

// RenderLegacy prints a pre-netty response body.
func RenderLegacy(w io.Writer, addr, body string) error {
	fields, extended := status.ParseLegacy(body)

	tw := newTable(w, "Field", "Value")
	tw.Append([]string{"Address", addr})
	switch {
	case extended && len(fields) == 5:
		tw.Append([]string{"Format", "extended"})
		tw.Append([]string{"Protocol", fields[0]})
		tw.Append([]string{"Version", fields[1]})
		tw.Append([]string{"MOTD", StripFormatting(fields[2])})
		tw.Append([]string{"Players", fields[3] + "/" + fields[4]})
	case !extended && len(fields) == 3:
		tw.Append([]string{"Format", "basic"})
		tw.Append([]string{"MOTD", StripFormatting(fields[0])})
		tw.Append([]string{"Players", fields[1] + "/" + fields[2]})
	default:
		return fmt.Errorf("unrecognized legacy response %q", body)
	}
	tw.Render()
	return nil
}

// RenderStats prints daily request totals with a summed footer.
func RenderStats(w io.Writer, daily []db.DailyTotals) {
	if len(daily) == 0 {
		fmt.Fprintln(w, "no requests recorded")
		return
	}

	tw := newTable(w, "Day", "Status", "Ping", "Legacy", "Legacy Ext", "Errors", "Total")
	var sum db.DailyTotals
	for _, d := range daily {
		tw.Append([]string{
			d.Day,
			itoa(d.Status),
			itoa(d.Ping),
			itoa(d.Legacy),
			itoa(d.LegacyExtended),
			itoa(d.Errors),
			itoa(d.Total()),
		})
		sum.Status += d.Status
		sum.Ping += d.Ping
		sum.Legacy += d.Legacy
		sum.LegacyExtended += d.LegacyExtended
		sum.Errors += d.Errors
	}
	tw.SetFooter([]string{
		"Total",
		itoa(sum.Status),
		itoa(sum.Ping),
		itoa(sum.Legacy),
		itoa(sum.LegacyExtended),
		itoa(sum.Errors),
		itoa(sum.Total()),
	})
	tw.Render()
}

// RenderErrors prints recent protocol errors, newest first.
func RenderErrors(w io.Writer, records []db.ProtocolErrorRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "no protocol errors recorded")
		return
	}

	tw := newTable(w, "Time", "Remote", "Reason", "State", "Message")
	for _, r := range records {
		tw.Append([]string{
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Remote,
			r.Reason,
			r.State,
			r.Message,
		})
	}
	tw.Render()
}

// StripFormatting removes § formatting codes from a MOTD.
func StripFormatting(s string) string {
	if !strings.ContainsRune(s, '§') {
		return s
	}

	var b strings.Builder
	skip := false
	for _, r := range s {
		switch {
		case skip:
			skip = false
		case r == '§':
			skip = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
