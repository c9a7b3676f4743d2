package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/gridflex/flexsim/internal/pkg/circuit"
)

const logo = `
 ___/\/\/\/\/\__/\/\________/\/\/\/\/\/\__/\/\__/\/\_
 _/\/\__________/\/\________/\/\__________/\/\/\/\___
 _/\/\/\/\/\____/\/\________/\/\/\/\/\______/\/\_____
 _/\/\__________/\/\________/\/\__________/\/\/\/\___
 _/\/\__________/\/\/\/\/\__/\/\/\/\/\/\__/\/\__/\/\_
`

var (
	app   = tview.NewApplication()
	table *tview.Table
	title *tview.TextView
)

type nodeDataResponse struct {
	Status  string               `json:"status"`
	Results circuit.StateDetails `json:"results"`
}

func main() {
	server := flag.String("server", "http://localhost:5000", "flexsim API address")
	refresh := flag.Duration("refresh", 2*time.Second, "poll interval")
	flag.Parse()

	pages := tview.NewPages()
	pages.AddPage("Splash", splash(pages), true, true)
	pages.AddPage("Overview", overview(), true, false)

	go poll(*server, *refresh)

	if err := app.SetRoot(pages, true).Run(); err != nil {
		panic(err)
	}
}

func splash(pages *tview.Pages) tview.Primitive {
	lines := strings.Split(logo, "\n")
	logoWidth := 0
	for _, line := range lines {
		if len(line) > logoWidth {
			logoWidth = len(line)
		}
	}

	logoBox := tview.NewTextView().
		SetTextColor(tcell.ColorBlue).
		SetDoneFunc(func(key tcell.Key) {
			pages.SwitchToPage("Overview")
		})
	fmt.Fprint(logoBox, logo)

	frame := tview.NewFrame(tview.NewBox()).
		SetBorders(0, 0, 0, 0, 0, 0).
		AddText("Distribution Feeder Simulator", true, tview.AlignCenter, tcell.ColorWhite).
		AddText("", true, tview.AlignCenter, tcell.ColorWhite).
		AddText("press enter", true, tview.AlignCenter, tcell.ColorDarkMagenta)

	return tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(tview.NewBox(), 0, 5, false).
		AddItem(tview.NewFlex().
			AddItem(tview.NewBox(), 0, 1, false).
			AddItem(logoBox, logoWidth, 1, true).
			AddItem(tview.NewBox(), 0, 1, false), len(lines), 1, true).
		AddItem(frame, 0, 10, false)
}

func overview() tview.Primitive {
	title = tview.NewTextView().SetTextColor(tcell.ColorYellow)
	title.SetText(" waiting for data...")

	table = tview.NewTable().SetFixed(1, 1)
	table.SetBorder(true).SetTitle(" Buses ")
	table.SetSelectable(true, false).SetSeparator(' ')

	return tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(title, 1, 0, false).
		AddItem(table, 0, 1, true)
}

func poll(server string, refresh time.Duration) {
	client := &http.Client{Timeout: 10 * time.Second}
	for range time.Tick(refresh) {
		resp, err := client.Get(server + "/get_node_data")
		if err != nil {
			setTitle(fmt.Sprintf(" %s unreachable: %v", server, err))
			continue
		}
		var data nodeDataResponse
		err = json.NewDecoder(resp.Body).Decode(&data)
		resp.Body.Close()
		if err != nil {
			setTitle(fmt.Sprintf(" bad response: %v", err))
			continue
		}

		app.QueueUpdateDraw(func() { render(data.Results) })
	}
}

func setTitle(text string) {
	app.QueueUpdateDraw(func() { title.SetText(text) })
}

func render(details circuit.StateDetails) {
	ps := details.PowerSummary
	title.SetText(fmt.Sprintf(" %s | total %.1f kW | losses %.1f kW | loading %.1f%%",
		details.ManagementStatus.Status, ps.TotalCircuitPowerKW, ps.TotalLossesKW, ps.CircuitLoadingPercent))

	headers := []string{"Bus", "V (pu)", "Load kW", "Gen kW", "Net kW", "Transformers"}
	for col, h := range headers {
		table.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false))
	}

	for row, bus := range details.BusDetails {
		xfmrs := make([]string, 0, len(bus.Transformers))
		for _, x := range bus.Transformers {
			xfmrs = append(xfmrs, fmt.Sprintf("%s %.0f%% %s", x.Name, x.LoadingPercent, x.Status))
		}

		cells := []string{
			bus.Bus,
			fmt.Sprintf("%.4f", bus.VMagPU),
			fmt.Sprintf("%.1f", bus.LoadKW),
			fmt.Sprintf("%.1f", bus.GenKW),
			fmt.Sprintf("%.1f", bus.NetPowerKW),
			strings.Join(xfmrs, ", "),
		}
		for col, text := range cells {
			color := tcell.ColorWhite
			if col == 0 {
				color = tcell.ColorDarkCyan
			}
			table.SetCell(row+1, col, tview.NewTableCell(text).SetTextColor(color))
		}
	}
}
