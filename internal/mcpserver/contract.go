package mcpserver

// DocumentFormatContract describes the document format that LLM consumers
// should follow when creating or updating documents.
const DocumentFormatContract = `# mdbase Document Format Contract

Every document is a Markdown file with a YAML frontmatter block, stored in a
collection: a top-level directory of the repository.

## Structure

` + "```" + `markdown
---
id: 3f2a9c1e7b8d4e0fa1b2c3d4e59g5fav   # assigned by mdbase, never edit
created_at: 2025-01-15T09:30:00Z       # assigned by mdbase
name: Acme Corp                         # fields declared by the collection schema
sector: manufacturing
---

# Acme Corp

Body text in standard Markdown. Link to other documents with [[token]] or
[[token:Display Title]].
` + "```" + `

## Rules

1. **Create documents through the create_document tool.** It assigns the
   ` + "`id`" + ` and ` + "`created_at`" + ` fields and picks the file name from the collection's slug
   template. Never choose a path yourself.
2. **Collections.** Each collection may carry a ` + "`_schema.yaml`" + ` declaring fields, their
   types, required fields and defaults. Call list_collections to see them and
   respect their types: numbers, booleans, dates (YYYY-MM-DD), emails, URLs, lists.
3. **Wiki-links** use double brackets around a token: a full id, an id prefix,
   the short id (last characters of the id) or a collection-scoped token such as
   ` + "`[[companies/9g5fav]]`" + `. A title after a colon is display text only and is kept in
   sync with the target's name by check_repository.
4. **Reference fields** ending in ` + "`_id`" + ` hold a token of another document.
5. **File names follow the data.** Changing a field used by the slug renames the
   file. Use find_document with an id rather than remembering paths.
6. **Folder documents** keep their Markdown in an index file and may hold
   attachments next to it. Upload them with upload_asset and reference them by
   their file name: ` + "`![plan](plan.pdf)`" + `.
7. **Encoding** is UTF-8. Frontmatter keys are English identifiers; values and
   body text may use any language.

## Example

` + "```" + `markdown
---
id: 7c1d0e2f9a8b4c3d8e7f6a5b4c3d2e1f
created_at: 2025-01-20T10:00:00Z
name: Jane Doe
company_id: companies/9g5fav
role: CTO
---

# Jane Doe

Leads engineering at [[companies/9g5fav:Acme Corp]].
` + "```" + `
`
