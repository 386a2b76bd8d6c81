package research

const analyzeSystemPrompt = `You are a professional research analyst.
Analyze the search results and page contents you are given and extract the key information.`

const followUpSystemPrompt = `You are a research strategist.
Based on the analysis so far, generate deeper follow-up search queries that fill the information gaps.`

const synthesizeSystemPrompt = `You are an expert research report writer.
Combine the findings of several research rounds into one well structured, comprehensive report.`

const expandSystemPrompt = `You are a research planner.
Rephrase the research topic into alternative web search queries that cover it from different angles.`

func analysisSchema() string {
	return `Return the JSON object directly without any formatting or additional text. The JSON object should have the following structure as defined in the schema. Make sure to answer in valid json and include all necessary properties:{
  "type": "object",
  "properties": {
    "key_findings": {"type": "array", "items": {"type": "string"}, "description": "Main findings, most important first"},
    "summary": {"type": "string", "description": "Overall summary of the results"},
    "topics": {"type": "array", "items": {"type": "string"}, "description": "Topics identified in the results"},
    "gaps": {"type": "array", "items": {"type": "string"}, "description": "Information gaps or directions that need further research"}
  },
  "required": ["key_findings", "summary", "gaps"]
}`
}

func queriesSchema(description string) string {
	return `Return the JSON object directly without any formatting or additional text. The JSON object should have the following structure as defined in the schema. Make sure to answer in valid json and include all necessary properties:{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {
        "type": "string"
      },
      "description": "` + description + `"
    }
  },
  "required": ["queries"]
}`
}

const reportInstructions = `Requirements:
1. Use Markdown.
2. Include these sections:
   - # <research topic title>
   - ## Executive Summary
   - ## Key Findings
   - ## Detailed Analysis
   - ## Conclusions and Outlook
   - ## References
3. Keep the structure clear and the reasoning coherent.
4. Use bullet points and numbered lists for readability.
5. List every source URL in the References section.`
