package summarizer

const balanceAndTLDR = "Include the most important information and the most relevant details. " +
	"Do not focus extensively on a single post or account; cover the most relevant information across everything provided. " +
	"End with a \"TL;DR\" section of exactly 5 bullet points naming the main topics. Format the answer as Markdown."

const itemsSystemPrompt = "You are a helpful assistant that summarizes social media content. " +
	"You are given a list of posts and must summarize them in a concise and informative way. " + balanceAndTLDR

const summariesSystemPrompt = "You are a helpful assistant that summarizes social media content. " +
	"You are given a list of per-account summaries and must combine them into one concise and informative digest. " + balanceAndTLDR
