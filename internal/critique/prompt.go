package critique

import "fmt"

// #region prompt
const promptTemplate = `Analyze this interaction:

User: %s
Your response: %s

Self-evaluate:
1. What did you do well?
2. What could be improved?
3. Any patterns you notice?

Be honest but balanced.`

// Prompt builds the self-critique request sent to the generator after a response.
func Prompt(userMessage, response string) string {
	return fmt.Sprintf(promptTemplate, userMessage, response)
}

// #endregion prompt
