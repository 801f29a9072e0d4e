// Command scrapegw runs the scrape gateway or a reference scrape agent.
package main

import "github.com/JakeFAU/scrape-gateway/cmd"

func main() {
	cmd.Execute()
}
