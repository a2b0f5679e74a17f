package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nazeru/order-fulfillment/internal/order/domain"
)

type model struct {
	client   *apiClient
	userID   string
	product  string
	order    *orderView
	statuses []domain.OrderStatus
	selected int
	status   string
	busy     bool
}

func initialModel(c *apiClient, userID, productID, orderID string) model {
	m := model{
		client:   c,
		userID:   userID,
		product:  productID,
		statuses: domain.AllStatuses,
		status:   "Ready",
	}
	if orderID != "" {
		m.order = &orderView{ID: orderID}
	}
	return m
}

func (m model) Init() tea.Cmd {
	if m.order != nil {
		return m.call("Loaded", func(ctx context.Context) (orderView, error) {
			return m.client.get(ctx, m.order.ID)
		})
	}
	return nil
}

type callResult struct {
	label string
	order orderView
	err   error
}

func (m model) call(label string, fn func(ctx context.Context) (orderView, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o, err := fn(ctx)
		return callResult{label: label, order: o, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		key := msg.String()
		switch key {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selected > 0 {
				m.selected--
			}
			return m, nil
		case "down":
			if m.selected < len(m.statuses)-1 {
				m.selected++
			}
			return m, nil
		}
		if m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		switch key {
		case "n":
			if m.userID == "" || m.product == "" {
				m.status = "Creating needs -user and -product"
				return m, nil
			}
			cmd = m.call("Created", func(ctx context.Context) (orderView, error) {
				return m.client.create(ctx, m.userID, m.product, 1)
			})
		case "enter", "r", "c":
			if m.order == nil {
				m.status = "No order selected, press n to create one"
				return m, nil
			}
			id := m.order.ID
			switch key {
			case "enter":
				to := string(m.statuses[m.selected])
				cmd = m.call("Moved to "+to, func(ctx context.Context) (orderView, error) {
					return m.client.setStatus(ctx, id, to)
				})
			case "r":
				cmd = m.call("Refreshed", func(ctx context.Context) (orderView, error) {
					return m.client.get(ctx, id)
				})
			case "c":
				cmd = m.call("Cancelled", func(ctx context.Context) (orderView, error) {
					return m.client.cancel(ctx, id, "cancelled from orderctl")
				})
			}
		default:
			return m, nil
		}
		m.busy = true
		m.status = "Running..."
		return m, cmd
	case callResult:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		o := msg.order
		m.order = &o
		m.status = msg.label
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "order-fulfillment orderctl")
	fmt.Fprintln(b, "")
	if m.order != nil {
		fmt.Fprintf(b, "Order: %s\n", m.order)
		if m.order.ShippedAt != "" {
			fmt.Fprintf(b, "  shipped:   %s\n", m.order.ShippedAt)
		}
		if m.order.DeliveredAt != "" {
			fmt.Fprintf(b, "  delivered: %s\n", m.order.DeliveredAt)
		}
	} else {
		fmt.Fprintln(b, "Order: none")
	}
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Move to:")
	for i, st := range m.statuses {
		marker := " "
		if i == m.selected {
			marker = ">"
		}
		current := ""
		if m.order != nil && m.order.Status == string(st) {
			current = " (current)"
		}
		fmt.Fprintf(b, " %s %s%s\n", marker, st, current)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	fmt.Fprintln(b, "\nControls: up/down select status, enter apply, c cancel, r refresh, n new order, q quit")
	return b.String()
}

func main() {
	baseURL := flag.String("base-url", getenv("ORDER_BASE_URL", "http://localhost:8080"), "order-service base URL")
	orderID := flag.String("order", "", "order id to drive")
	userID := flag.String("user", "", "user id for new orders")
	productID := flag.String("product", "", "product id for new orders")
	setStatus := flag.String("set", "", "apply one status to -order and exit")
	flag.Parse()

	client := newAPIClient(*baseURL)
	if *setStatus != "" {
		if *orderID == "" {
			fmt.Fprintln(os.Stderr, "-set requires -order")
			os.Exit(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		o, err := client.setStatus(ctx, *orderID, strings.ToUpper(*setStatus))
		cancel()
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		fmt.Println(o)
		return
	}

	p := tea.NewProgram(initialModel(client, *userID, *productID, *orderID))
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
