package main

import "github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/app"

func main() {
	app.Main()
}
