// fundeploy deploys serverless templates: validate, plan, deploy, watch.
package main

func main() {
	Execute()
}
