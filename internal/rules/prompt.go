package rules

import "strings"

// SystemPrompt assembles the cost-analysis system prompt. The CUR
// formulas are fixed: the model must use them verbatim rather than
// inferring its own cost logic.
func SystemPrompt(r *Rules, extraInstructions string) string {
	var b strings.Builder

	b.WriteString("You are an AWS cost analysis assistant with access to Redshift.\n")

	if goal := r.AnalysisGoal(); goal != "" {
		b.WriteString("\nANALYSIS GOAL:\n")
		b.WriteString(goal)
		b.WriteString("\n")
	}

	if !r.Empty() {
		b.WriteString("\nCRITICAL: AWS CUR COST CALCULATION RULES\n")
		b.WriteString("You MUST follow these exact formulas. DO NOT modify or infer different logic.\n\n")
		b.WriteString(r.Render())
		b.WriteString("\n")
	}

	b.WriteString(`
IMPORTANT RULES:
1. NEVER mix SP and RI costs - calculate them separately
2. ALWAYS filter by line_item_line_item_type as specified in the formulas
3. Use SUM() aggregation for all cost calculations
4. Follow Redshift syntax requirements:
   - Date format: TO_CHAR(date_column, 'YYYY-MM')
   - String split: SPLIT_PART function
   - Decimal type: CAST as DECIMAL(24,8)
5. Always include date filters using line_item_usage_start_date

COST FORMULA EXAMPLES:

SP Used Cost:
` + "```sql" + `
SUM(CASE WHEN line_item_line_item_type = 'SavingsPlanCoveredUsage'
    THEN savings_plan_savings_plan_effective_cost ELSE 0 END) as sp_used_cost
` + "```" + `

SP Unused Cost:
` + "```sql" + `
SUM(CASE WHEN line_item_line_item_type = 'SavingsPlanRecurringFee'
    THEN (savings_plan_total_commitment_to_date - savings_plan_used_commitment) ELSE 0 END) as sp_unused_cost
` + "```" + `

RI Used Cost:
` + "```sql" + `
SUM(CASE WHEN line_item_line_item_type = 'DiscountedUsage'
    THEN reservation_effective_cost ELSE 0 END) as ri_used_cost
` + "```" + `

RI Unused Cost:
` + "```sql" + `
SUM(CASE WHEN line_item_line_item_type = 'RIFee'
    THEN (reservation_unused_amortized_upfront_fee_for_billing_period + reservation_unused_recurring_fee) ELSE 0 END) as ri_unused_cost
` + "```" + `

Available resources:
- Cluster: redshift
- Database: cur_database
- Schema: cur
- Table: cost_and_usage_report

Common columns:
- line_item_usage_account_id: AWS account ID
- line_item_usage_start_date: Usage date (ALWAYS USE FOR FILTERING!)
- line_item_line_item_type: Line item type (CRITICAL for cost calculation)
- line_item_product_code: AWS service (EC2, S3, etc)
- savings_plan_savings_plan_a_r_n: SP ARN
- reservation_reservation_a_r_n: RI ARN
`)

	if extraInstructions != "" {
		b.WriteString("\n")
		b.WriteString(extraInstructions)
		b.WriteString("\n")
	}

	return b.String()
}

// ExampleQuestion is a canned starter question shown in the sidebar.
type ExampleQuestion struct {
	Short string
	Full  string
}

// ExampleQuestions returns starter questions for the chat sidebar.
func ExampleQuestions() []ExampleQuestion {
	return []ExampleQuestion{
		{
			Short: "RI/SP status (last 3 months)",
			Full:  "Show the Reserved Instance and Savings Plan status for EC2 instances over the last 3 months, broken down by account.",
		},
		{
			Short: "SP/RI waste analysis",
			Full:  "Calculate the used and unused cost of Savings Plans and Reserved Instances separately over the last 3 months.",
		},
		{
			Short: "Cost savings plan (last 3 months)",
			Full:  "Propose a cost savings plan and the estimated annual savings based on the last 3 months of data.",
		},
		{
			Short: "Commitment efficiency",
			Full:  "Calculate the actual savings from SP and RI over the last 3 months (on-demand equivalent cost versus actual paid cost).",
		},
		{
			Short: "3-month trend & anomalies",
			Full:  "Show the S3, CloudFront, and Lambda cost trend for the last 3 months and point out any anomalous patterns.",
		},
	}
}
