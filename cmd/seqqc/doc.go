/*
seqqc computes quality metrics for a FASTQ or unaligned BAM file and
writes them as a set of TSV tables.

The metrics cover per-position base and quality composition, GC content,
adapter content, per-tile quality for Illumina flow cells, sequence
duplication with overrepresented sequence detection, and basecaller run
metadata for nanopore reads. Overrepresented sequences can be identified
against contaminant FASTA databases.

Sample usage:
seqqc \
    -contaminants contaminant_list.fa \
    -out sample.qc.tsv \
    sample.fastq.gz
*/
package main
